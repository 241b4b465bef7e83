// Package events carries batch results and progress from the scheduler's
// workers to the UI layer.
package events

import (
	"sync"

	"github.com/fleetexec/fleetexec/internal/models"
)

// Type discriminates the two event variants.
type Type string

// Event variants.
const (
	TypeResult   Type = "batch-result"
	TypeProgress Type = "batch-progress"
)

// Event is one item on the pipe. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type     Type
	Result   *models.BatchOutcome
	Progress *models.ProgressRecord
}

// Sink receives events from scheduler workers. Implementations must drain in
// bounded time: a blocking sink throttles dispatch by design.
type Sink interface {
	// Publish delivers one event. Delivery to a departed consumer is a
	// silent drop, never an error.
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops every event. Stands in for a closed UI.
var Discard = SinkFunc(func(Event) {})

// Channel is a multi-producer single-consumer pipe. Producers are the worker
// goroutines of a batch; the consumer is the UI layer reading C. Events from
// one producer arrive in the order it published them; no ordering is promised
// across producers beyond the scheduler's progress counter.
type Channel struct {
	c        chan Event
	done     chan struct{}
	dropOnce sync.Once
	endOnce  sync.Once
}

// NewChannel creates a pipe with the given buffer. A buffer of 0 makes every
// Publish rendezvous with the consumer, giving full backpressure.
func NewChannel(buffer int) *Channel {
	return &Channel{
		c:    make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// C is the consumer side. It is closed by CloseSend once all producers have
// finished.
func (ch *Channel) C() <-chan Event { return ch.c }

// Publish implements Sink. If the consumer has departed (Drop), the event is
// discarded silently. Otherwise Publish blocks while the buffer is full,
// which backpressures the producing worker.
func (ch *Channel) Publish(ev Event) {
	select {
	case <-ch.done:
		return
	default:
	}
	select {
	case ch.c <- ev:
	case <-ch.done:
	}
}

// CloseSend closes the consumer side. It must only be called after every
// producer has returned from Publish; the owner of the channel calls it once
// the batch call that publishes into it has returned. Idempotent.
func (ch *Channel) CloseSend() {
	ch.endOnce.Do(func() { close(ch.c) })
}

// Drop marks the consumer as departed. Subsequent and in-flight publishes are
// discarded. Idempotent.
func (ch *Channel) Drop() {
	ch.dropOnce.Do(func() { close(ch.done) })
}

// NewResult wraps an outcome.
func NewResult(o *models.BatchOutcome) Event {
	return Event{Type: TypeResult, Result: o}
}

// NewProgress wraps a progress record.
func NewProgress(p models.ProgressRecord) Event {
	return Event{Type: TypeProgress, Progress: &p}
}
