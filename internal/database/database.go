// Package database provides the relational store access layer backing
// the job orchestration engine.
package database

import (
	"context"
	"database/sql"
)

// Database represents a database connection
type Database interface {
	// Execute runs a query that doesn't return rows
	Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// Query runs a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// QueryRow runs a query that returns at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// Get executes a query and scans the result into dest (single row)
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Select executes a query and scans the result into dest (multiple rows)
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Transaction executes a function within a transaction
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Ping verifies the connection
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Transaction represents a database transaction
type Transaction interface {
	Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
