package collect

import (
	"sync"
	"time"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels.
// Sends are non-blocking; a full subscriber misses events rather than
// stalling the emitter.
const SubscriberChannelBufferSize = 100

// Event is an advisory signal emitted by the scheduler, the enrichment
// pipeline, or the conflict resolver. Emitters never wait on listeners.
type Event interface {
	EventType() string
}

// CollectorRegistered fires when a collector is (re-)registered.
type CollectorRegistered struct {
	SourceType SourceType `json:"source_type"`
	Enabled    bool       `json:"enabled"`
}

// CollectionStarted fires when a poll tick begins.
type CollectionStarted struct {
	SourceType SourceType `json:"source_type"`
}

// CollectionCompleted fires after a successful poll.
type CollectionCompleted struct {
	SourceType SourceType    `json:"source_type"`
	Duration   time.Duration `json:"duration"`
	DataSize   int64         `json:"data_size"`
	Quality    float64       `json:"quality"`
}

// CollectionFailed fires after a failed poll.
type CollectionFailed struct {
	SourceType SourceType    `json:"source_type"`
	Error      string        `json:"error"`
	Duration   time.Duration `json:"duration"`
}

// StorageFailed fires when persistence fails after a successful collection
// or enrichment. The in-memory result is not rolled back; recollection is
// cheap and idempotent per source.
type StorageFailed struct {
	SourceType SourceType `json:"source_type,omitempty"`
	JobID      string     `json:"job_id,omitempty"`
	Error      string     `json:"error"`
}

// JobQueued fires when an enrichment job enters the queue.
type JobQueued struct {
	JobID       string `json:"job_id"`
	Priority    int    `json:"priority"`
	QueueLength int    `json:"queue_length"`
}

// JobStarted fires when a worker picks up an enrichment job.
type JobStarted struct {
	JobID string `json:"job_id"`
}

// JobCompleted fires when an enrichment job finishes.
type JobCompleted struct {
	JobID            string `json:"job_id"`
	EnrichmentsCount int    `json:"enrichments_count"`
}

// JobFailed fires when an enrichment job fails.
type JobFailed struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// ConflictsDetected fires when the resolver finds a multi-device conflict set.
type ConflictsDetected struct {
	GroupKey  string   `json:"group_key"`
	DeviceIDs []string `json:"device_ids"`
}

func (CollectorRegistered) EventType() string { return "collector_registered" }
func (CollectionStarted) EventType() string   { return "collection_started" }
func (CollectionCompleted) EventType() string { return "collection_completed" }
func (CollectionFailed) EventType() string    { return "collection_failed" }
func (StorageFailed) EventType() string       { return "storage_failed" }
func (JobQueued) EventType() string           { return "job_queued" }
func (JobStarted) EventType() string          { return "job_started" }
func (JobCompleted) EventType() string        { return "job_completed" }
func (JobFailed) EventType() string           { return "job_failed" }
func (ConflictsDetected) EventType() string   { return "conflicts_detected" }

// Emitter fans typed events out to subscriber channels.
// Thread-safe; Publish never blocks.
type Emitter struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subscribers: make([]chan Event, 0)}
}

// Subscribe returns a buffered channel receiving future events.
// The caller is responsible for calling Unsubscribe when done.
func (e *Emitter) Subscribe() chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed here -
// the caller owns its lifecycle, which prevents double-close panics.
func (e *Emitter) Unsubscribe(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends the event to every subscriber without blocking.
// Subscribers whose buffers are full skip the event.
func (e *Emitter) Publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
