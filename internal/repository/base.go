package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx/types"

	"github.com/21Micheal/netsec/internal/database"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
)

type baseRepository struct {
	db      database.Database
	logger  observability.Logger
	metrics observability.Metrics
	table   string
	qb      squirrel.StatementBuilderType
}

func newBaseRepository(db database.Database, logger observability.Logger, metrics observability.Metrics, table string) baseRepository {
	return baseRepository{
		db:      db,
		logger:  logger.WithFields(map[string]interface{}{"table": table}),
		metrics: metrics,
		table:   table,
		qb:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *baseRepository) count(op string) {
	r.metrics.IncrementCounter(fmt.Sprintf("repository.%s.%s", r.table, op), nil)
}

func (r *baseRepository) countError(op string) {
	r.metrics.IncrementCounter(fmt.Sprintf("repository.%s.errors", r.table), map[string]string{"op": op})
}

// jsonOrNil coerces an unset JSON column to SQL NULL. An empty
// JSONText would otherwise reach the driver as zero bytes, which
// PostgreSQL rejects for jsonb.
func jsonOrNil(j types.JSONText) interface{} {
	if len(j) == 0 {
		return nil
	}
	return j
}

// mapNotFound translates driver-level no-rows into the domain taxonomy.
func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
