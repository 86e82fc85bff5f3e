package observability

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// log levels ordered by severity
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// StdLogger implements Logger with JSON lines on a writer, suitable for
// ingestion by log aggregation systems.
type StdLogger struct {
	fields   map[string]interface{}
	logger   *log.Logger
	minLevel int
}

// NewLogger creates a JSON logger writing to stdout at the given
// minimum level ("debug", "info", "warn" or "error").
func NewLogger(service, level string) Logger {
	return NewLoggerWithOutput(service, level, os.Stdout)
}

// NewLoggerWithOutput is NewLogger with an explicit output writer.
func NewLoggerWithOutput(service, level string, out io.Writer) Logger {
	return &StdLogger{
		fields:   map[string]interface{}{"service": service},
		logger:   log.New(out, "", 0),
		minLevel: parseLevel(level),
	}
}

func (l *StdLogger) Debug(msg string, fields ...interface{}) { l.log(levelDebug, "DEBUG", msg, fields...) }
func (l *StdLogger) Info(msg string, fields ...interface{})  { l.log(levelInfo, "INFO", msg, fields...) }
func (l *StdLogger) Warn(msg string, fields ...interface{})  { l.log(levelWarn, "WARN", msg, fields...) }
func (l *StdLogger) Error(msg string, fields ...interface{}) { l.log(levelError, "ERROR", msg, fields...) }

// WithFields returns a new Logger with additional persistent fields
func (l *StdLogger) WithFields(fields map[string]interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &StdLogger{
		fields:   newFields,
		logger:   l.logger,
		minLevel: l.minLevel,
	}
}

func (l *StdLogger) log(level int, name, msg string, fields ...interface{}) {
	if level < l.minLevel {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)/2+3)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = name
	entry["message"] = msg

	for k, v := range l.fields {
		entry[k] = v
	}

	// Variadic fields come as key1, value1, key2, value2, ...
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, ok := fields[i+1].(error); ok && err != nil {
			entry[key] = err.Error()
			continue
		}
		entry[key] = fields[i+1]
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("failed to marshal log entry: %v", err)
		return
	}
	l.logger.Println(string(jsonBytes))
}
