// Package eventbus fans scan job state transitions out to all currently
// subscribed viewers.
//
// Each connected viewer registers a Subscriber and manages its own set
// of job subscriptions; the set lives only as long as the connection
// and is discarded wholesale on disconnect. Delivery is best-effort:
// events for jobs nobody watches are dropped, and the durable job store
// remains the source of truth a reconnecting viewer re-fetches from.
// Publishing never blocks the state mutation that triggered it.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/21Micheal/netsec/internal/observability"
)

// Bus routes job events to subscribers. It is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	byJob   map[uuid.UUID]map[*Subscriber]struct{}
	all     map[*Subscriber]struct{}
	buffer  int
	logger  observability.Logger
	metrics observability.Metrics
}

// Subscriber is one connected viewer's delivery queue plus its
// subscription set. Create with Bus.Register, release with
// Bus.Unregister.
type Subscriber struct {
	ch     chan Event
	jobs   map[uuid.UUID]struct{}
	closed bool
}

// Events is the subscriber's ordered delivery channel. It is closed by
// Bus.Unregister.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// New creates a Bus whose subscribers buffer up to sendBuffer events.
func New(sendBuffer int, logger observability.Logger, metrics observability.Metrics) *Bus {
	if sendBuffer < 1 {
		sendBuffer = 64
	}
	return &Bus{
		byJob:   make(map[uuid.UUID]map[*Subscriber]struct{}),
		all:     make(map[*Subscriber]struct{}),
		buffer:  sendBuffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Register attaches a new viewer with an empty subscription set.
func (b *Bus) Register() *Subscriber {
	s := &Subscriber{
		ch:   make(chan Event, b.buffer),
		jobs: make(map[uuid.UUID]struct{}),
	}

	b.mu.Lock()
	b.all[s] = struct{}{}
	b.mu.Unlock()

	b.metrics.IncrementCounter("eventbus.subscribers.registered", nil)
	return s
}

// Unregister detaches the viewer, drops all its subscriptions and
// closes its event channel. Safe to call more than once.
func (b *Bus) Unregister(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for jobID := range s.jobs {
		b.removeFromJob(jobID, s)
	}
	delete(b.all, s)
	close(s.ch)

	b.metrics.IncrementCounter("eventbus.subscribers.unregistered", nil)
}

// Connections reports how many viewers are currently attached.
func (b *Bus) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.all)
}

// Subscribe adds jobID to the viewer's subscription set. A repeated
// subscribe is a no-op.
func (b *Bus) Subscribe(s *Subscriber, jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.jobs[jobID]; ok {
		return
	}
	s.jobs[jobID] = struct{}{}

	set, ok := b.byJob[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.byJob[jobID] = set
	}
	set[s] = struct{}{}
}

// Unsubscribe removes jobID from the viewer's subscription set; a no-op
// when absent.
func (b *Bus) Unsubscribe(s *Subscriber, jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return
	}
	delete(s.jobs, jobID)
	b.removeFromJob(jobID, s)
}

// Publish delivers e to every viewer currently subscribed to its job.
// Viewers whose buffer is full lose the event rather than blocking the
// publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, ok := b.byJob[e.JobID]
	if !ok || len(set) == 0 {
		// Nobody is watching; the job store remains the source of truth.
		b.metrics.IncrementCounter("eventbus.publish.unwatched", nil)
		return
	}

	for s := range set {
		b.send(s, e)
	}
}

// Broadcast delivers e to every connected viewer regardless of
// subscriptions. Used for cross-cutting notices such as connectivity
// pings.
func (b *Bus) Broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.all {
		b.send(s, e)
	}
}

// SubscriberCount returns how many viewers watch the given job.
func (b *Bus) SubscriberCount(jobID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byJob[jobID])
}

func (b *Bus) send(s *Subscriber, e Event) {
	select {
	case s.ch <- e:
		b.metrics.IncrementCounter("eventbus.publish.delivered", map[string]string{"event": string(e.Type)})
	default:
		// Slow consumer: drop instead of stalling every other viewer.
		b.metrics.IncrementCounter("eventbus.publish.dropped", map[string]string{"event": string(e.Type)})
		b.logger.Warn("dropping event for slow subscriber", "event", string(e.Type), "job_id", e.JobID)
	}
}

// removeFromJob is called with b.mu held.
func (b *Bus) removeFromJob(jobID uuid.UUID, s *Subscriber) {
	set, ok := b.byJob[jobID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.byJob, jobID)
	}
}
