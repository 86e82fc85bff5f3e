// Package dispatch hands scan jobs to the execution workers over
// RabbitMQ. Tasks go to a durable work queue; stop signals are
// broadcast on a fanout exchange since any worker may hold the job.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/21Micheal/netsec/internal/config"
	"github.com/21Micheal/netsec/internal/domain"
	"github.com/21Micheal/netsec/internal/observability"
)

// taskMessage is the payload a worker consumes to run one scan.
type taskMessage struct {
	JobID    uuid.UUID       `json:"job_id"`
	Target   string          `json:"target"`
	ScanType domain.ScanType `json:"scan_type"`
	Profile  string          `json:"profile"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// controlMessage is broadcast to all workers.
type controlMessage struct {
	Action string    `json:"action"`
	JobID  uuid.UUID `json:"job_id"`
}

// AMQPDispatcher publishes scan tasks and control signals to RabbitMQ.
type AMQPDispatcher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	config  *config.QueueConfig
	logger  observability.Logger
	metrics observability.Metrics

	// amqp channels are not safe for concurrent publishes.
	mu sync.Mutex
}

// NewAMQPDispatcher connects to RabbitMQ and declares the task queue
// and control exchange.
func NewAMQPDispatcher(cfg *config.QueueConfig, logger observability.Logger, metrics observability.Metrics) (*AMQPDispatcher, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		logger.Error("failed to create channel", "error", err)
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.TaskQueue, // queue name
		true,          // durable
		false,         // auto-delete
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare task queue: %w", err)
	}

	if err := channel.ExchangeDeclare(
		cfg.ControlExchange, // name
		"fanout",            // kind
		false,               // durable
		false,               // auto-delete
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare control exchange: %w", err)
	}

	logger.Info("RabbitMQ dispatcher initialized",
		"task_queue", cfg.TaskQueue,
		"control_exchange", cfg.ControlExchange,
	)

	return &AMQPDispatcher{
		conn:    conn,
		channel: channel,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// DispatchScan enqueues a job for a worker to pick up. Messages are
// persistent so queued jobs survive a broker restart.
func (d *AMQPDispatcher) DispatchScan(ctx context.Context, job *domain.ScanJob) error {
	startTime := time.Now()
	defer func() {
		d.metrics.RecordHistogram("dispatch_publish_duration",
			time.Since(startTime).Seconds(),
			map[string]string{"scan_type": string(job.ScanType)})
	}()

	body, err := json.Marshal(taskMessage{
		JobID:    job.ID,
		Target:   job.Target,
		ScanType: job.ScanType,
		Profile:  job.Profile,
		Config:   json.RawMessage(job.Config),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	d.mu.Lock()
	err = d.channel.PublishWithContext(
		ctx,
		"",                 // exchange (default, direct to queue)
		d.config.TaskQueue, // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID.String(),
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("failed to publish task", "error", err, "job_id", job.ID)
		d.metrics.IncrementCounter("dispatch_publish_errors",
			map[string]string{"scan_type": string(job.ScanType)})
		return fmt.Errorf("failed to publish task: %w", err)
	}

	d.logger.Info("scan task published", "job_id", job.ID, "queue", d.config.TaskQueue, "size", len(body))
	d.metrics.IncrementCounter("dispatch_publish_success",
		map[string]string{"scan_type": string(job.ScanType)})
	return nil
}

// StopScan broadcasts a stop signal for the job. Workers that do not
// hold the job ignore it.
func (d *AMQPDispatcher) StopScan(ctx context.Context, jobID uuid.UUID) error {
	body, err := json.Marshal(controlMessage{Action: "stop", JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal control message: %w", err)
	}

	d.mu.Lock()
	err = d.channel.PublishWithContext(
		ctx,
		d.config.ControlExchange, // exchange
		"",                       // routing key (fanout ignores it)
		false,                    // mandatory
		false,                    // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	d.mu.Unlock()

	if err != nil {
		d.metrics.IncrementCounter("dispatch_control_errors", nil)
		return fmt.Errorf("failed to publish stop signal: %w", err)
	}

	d.logger.Info("stop signal broadcast", "job_id", jobID)
	return nil
}

// Close releases the channel and connection.
func (d *AMQPDispatcher) Close() error {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
