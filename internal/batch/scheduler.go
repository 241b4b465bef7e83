// Package batch dispatches command execution across a host fleet with bounded
// parallelism, per-host terminal outcomes, and cooperative cancellation.
package batch

import (
	"fmt"
	"time"

	"github.com/fleetexec/fleetexec/internal/cancel"
	"github.com/fleetexec/fleetexec/internal/classify"
	"github.com/fleetexec/fleetexec/internal/events"
	"github.com/fleetexec/fleetexec/internal/logging"
	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runner executes the command on one host and returns its terminal outcome.
// The session executor implements this; tests substitute stubs.
type Runner interface {
	Run(host models.HostEntry, tok *cancel.Token) *models.BatchOutcome
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(host models.HostEntry, tok *cancel.Token) *models.BatchOutcome

// Run implements Runner.
func (f RunnerFunc) Run(host models.HostEntry, tok *cancel.Token) *models.BatchOutcome {
	return f(host, tok)
}

// Scheduler fans one request out over a bounded worker pool.
type Scheduler struct {
	runner Runner
	log    zerolog.Logger
}

// NewScheduler creates a scheduler executing through runner.
func NewScheduler(runner Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		log:    logging.Component("batch"),
	}
}

// Run executes one attempt round over hosts. Dispatch follows host order;
// completion order is whatever the fleet gives. The returned slice is indexed
// like hosts, so outcome i always belongs to hosts[i]. Every host gets
// exactly one outcome: hosts never started after cancellation are emitted as
// Cancelled so the progress counter still drains to total.
func (s *Scheduler) Run(hosts []models.HostEntry, maxConcurrent int, sink events.Sink, tok *cancel.Token) ([]models.BatchOutcome, error) {
	if maxConcurrent < 1 || maxConcurrent > 500 {
		return nil, fmt.Errorf("max concurrent %d out of range [1,500]", maxConcurrent)
	}
	if sink == nil {
		sink = events.Discard
	}

	total := len(hosts)
	results := make([]models.BatchOutcome, total)
	progress := newProgressCounter(total, sink)

	var g errgroup.Group
	g.SetLimit(maxConcurrent)

	for i := range hosts {
		idx := i
		host := hosts[i]
		// Go blocks while all workers are busy, which keeps dispatch in
		// host order and the session count at the bound.
		g.Go(func() error {
			out := s.runOne(host, tok)
			results[idx] = *out
			sink.Publish(events.NewResult(out))
			progress.complete(host.IP)
			return nil
		})
	}
	g.Wait()

	return results, nil
}

// runOne guards a single host execution. A panicking runner is converted to
// an Unknown outcome; one host can never abort the batch.
func (s *Scheduler) runOne(host models.HostEntry, tok *cancel.Token) (out *models.BatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("host", host.IP).Interface("panic", r).
				Msg("worker panicked")
			out = &models.BatchOutcome{
				Host: host.IP,
				Err: &models.ErrorDesc{
					Kind:      models.KindUnknown,
					Message:   fmt.Sprintf("internal failure while executing on %s", host.IP),
					Retryable: classify.Retryable(models.KindUnknown),
				},
				Timestamp: time.Now().UTC(),
			}
		}
	}()

	if tok.IsTripped() {
		return &models.BatchOutcome{
			Host:      host.IP,
			Err:       classify.Error(classify.ErrCancelled),
			Timestamp: time.Now().UTC(),
		}
	}

	s.log.Debug().Str("host", host.IP).Msg("dispatching")
	out = s.runner.Run(host, tok)
	if out == nil {
		// A runner returning nothing is a contract violation, not a batch
		// failure.
		out = &models.BatchOutcome{
			Host: host.IP,
			Err: &models.ErrorDesc{
				Kind:      models.KindUnknown,
				Message:   fmt.Sprintf("runner returned no outcome for %s", host.IP),
				Retryable: classify.Retryable(models.KindUnknown),
			},
			Timestamp: time.Now().UTC(),
		}
	}
	return out
}
