package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/21Micheal/netsec/internal/domain"
)

// EventType identifies a server-to-client message.
type EventType string

const (
	// EventScanUpdate carries a job state transition or progress change.
	EventScanUpdate EventType = "scan_update"
	// EventScanLog carries one appended log line.
	EventScanLog EventType = "scan_log"
	// EventScanComplete is the terminal completion/failure notice.
	EventScanComplete EventType = "scan_complete"

	// Global channel notices, unrelated to any subscription.
	EventConnected EventType = "connected"
	EventPong      EventType = "pong"
	EventError     EventType = "error"
)

// Event is one message pushed to subscribed viewers. Per-job delivery
// order is the orchestrator's emission order.
//
// The transport may redeliver on reconnect races, so consumers must
// treat an event identical to the previous one for the same job as a
// duplicate and apply no state change; Deduper implements that
// contract.
type Event struct {
	Type      EventType        `json:"event"`
	JobID     uuid.UUID        `json:"job_id,omitempty"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Progress  int              `json:"progress"`
	Target    string           `json:"target,omitempty"`
	Profile   string           `json:"profile,omitempty"`
	Line      string           `json:"line,omitempty"`
	Error     string           `json:"error,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// JobUpdate builds the scan_update event for a job's current state.
func JobUpdate(job *domain.ScanJob) Event {
	return Event{
		Type:      EventScanUpdate,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Target:    job.Target,
		Profile:   job.Profile,
		Timestamp: time.Now().UTC(),
	}
}

// JobLog builds the scan_log event for one appended line.
func JobLog(job *domain.ScanJob, line string) Event {
	return Event{
		Type:      EventScanLog,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Line:      line,
		Timestamp: time.Now().UTC(),
	}
}

// JobComplete builds the terminal notice for a finished, failed or
// cancelled job.
func JobComplete(job *domain.ScanJob) Event {
	return Event{
		Type:      EventScanComplete,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Target:    job.Target,
		Profile:   job.Profile,
		Error:     job.ErrorText(),
		Timestamp: time.Now().UTC(),
	}
}

// Deduper suppresses consecutive duplicate scan_update events per job,
// implementing the consumer side of the idempotent-delivery contract.
type Deduper struct {
	last map[uuid.UUID]Event
}

// NewDeduper returns an empty duplicate tracker.
func NewDeduper() *Deduper {
	return &Deduper{last: make(map[uuid.UUID]Event)}
}

// Duplicate reports whether e repeats the previously seen update for
// its job and records e otherwise. Only scan_update events are
// considered; log lines and terminal notices always pass.
func (d *Deduper) Duplicate(e Event) bool {
	if e.Type != EventScanUpdate {
		return false
	}
	prev, ok := d.last[e.JobID]
	if ok && prev.Status == e.Status && prev.Progress == e.Progress {
		return true
	}
	d.last[e.JobID] = e
	return false
}
