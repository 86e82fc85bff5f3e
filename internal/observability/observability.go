// Package observability provides the logging and metrics ports used
// throughout the orchestration engine, with JSON stdout logging and
// Prometheus metrics adapters.
package observability

// Logger defines the interface for structured logging in the application.
type Logger interface {
	// Debug logs detailed information useful during troubleshooting.
	Debug(msg string, fields ...interface{})

	// Info logs informational messages for normal operations.
	Info(msg string, fields ...interface{})

	// Warn logs potentially harmful situations that don't prevent operation.
	Warn(msg string, fields ...interface{})

	// Error logs error conditions with the associated error object.
	Error(msg string, fields ...interface{})

	// WithFields returns a new Logger with the given fields added to all
	// subsequent logs. Useful for adding consistent context like job_id
	// or component name.
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the interface for recording application metrics.
type Metrics interface {
	// IncrementCounter increments a counter metric by 1.
	IncrementCounter(name string, tags map[string]string)

	// RecordHistogram records a value in a histogram distribution.
	// Use for latencies, sizes, or any value where distribution matters.
	RecordHistogram(name string, value float64, tags map[string]string)

	// RecordGauge records a point-in-time measurement.
	RecordGauge(name string, value float64, tags map[string]string)
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything. Intended for
// tests and optional dependencies.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{})               {}
func (nopLogger) Info(string, ...interface{})                {}
func (nopLogger) Warn(string, ...interface{})                {}
func (nopLogger) Error(string, ...interface{})               {}
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }

type nopMetrics struct{}

// NewNopMetrics returns a Metrics sink that discards everything.
func NewNopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) IncrementCounter(string, map[string]string)         {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)     {}
