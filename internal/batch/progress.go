package batch

import (
	"sync"

	"github.com/fleetexec/fleetexec/internal/events"
	"github.com/fleetexec/fleetexec/internal/models"
)

// progressCounter emits strictly monotonic progress records. The lock spans
// increment and publish so two workers cannot publish out of order.
type progressCounter struct {
	mu        sync.Mutex
	completed int
	total     int
	sink      events.Sink
}

func newProgressCounter(total int, sink events.Sink) *progressCounter {
	return &progressCounter{total: total, sink: sink}
}

func (p *progressCounter) complete(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.sink.Publish(events.NewProgress(models.ProgressRecord{
		Completed: p.completed,
		Total:     p.total,
		Host:      host,
	}))
}
