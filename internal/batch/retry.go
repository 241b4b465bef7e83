package batch

import (
	"github.com/fleetexec/fleetexec/internal/cancel"
	"github.com/fleetexec/fleetexec/internal/events"
	"github.com/fleetexec/fleetexec/internal/logging"
	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/rs/zerolog"
)

// Orchestrator re-queues hosts whose latest failure is retryable, one fresh
// scheduler round per retry. Each round works on a filtered subset; the
// orchestrator owns the accumulation, so rounds never read the slice they
// are writing.
type Orchestrator struct {
	sched *Scheduler
	log   zerolog.Logger
}

// NewOrchestrator wraps a scheduler with host-level retry.
func NewOrchestrator(sched *Scheduler) *Orchestrator {
	return &Orchestrator{
		sched: sched,
		log:   logging.Component("retry"),
	}
}

// Run executes the initial round and, when requested, retry rounds until no
// retryable host remains, the attempt cap is reached, or the token trips.
// The returned slice is indexed like req.Hosts and carries each host's most
// recent outcome.
func (o *Orchestrator) Run(req models.BatchRequest, sink events.Sink, tok *cancel.Token) ([]models.BatchOutcome, error) {
	results, err := o.sched.Run(req.Hosts, req.MaxConcurrent, sink, tok)
	if err != nil {
		return nil, err
	}
	if !req.RetryFailedHosts {
		return results, nil
	}

	if req.RetryMaxAttempts == 0 {
		o.log.Warn().Msg("retry_failed_hosts with retry_max_attempts=0: retrying until cancelled")
	}

	attempts := make(map[int]int, len(req.Hosts))

	for round := 1; ; round++ {
		if tok.IsTripped() {
			break
		}

		indices := retryable(results, attempts, req.RetryMaxAttempts)
		if len(indices) == 0 {
			break
		}

		o.log.Info().Int("round", round).Int("hosts", len(indices)).
			Dur("interval", req.RetryInterval).Msg("retrying failed hosts")

		if tok.Sleep(req.RetryInterval) {
			break
		}

		subset := make([]models.HostEntry, len(indices))
		for j, i := range indices {
			subset[j] = req.Hosts[i]
			attempts[i]++
		}

		roundResults, err := o.sched.Run(subset, req.MaxConcurrent, sink, tok)
		if err != nil {
			return nil, err
		}
		for j, i := range indices {
			results[i] = roundResults[j]
		}
	}

	return results, nil
}

// retryable selects host indices whose most recent outcome is a retryable
// failure and whose attempt budget is not exhausted. The latest
// classification is authoritative: a host whose final failure is permanent is
// never re-queued, whatever its earlier rounds looked like.
func retryable(results []models.BatchOutcome, attempts map[int]int, maxAttempts int) []int {
	var indices []int
	for i := range results {
		desc := results[i].Err
		if desc == nil || !desc.Retryable {
			continue
		}
		if maxAttempts > 0 && attempts[i] >= maxAttempts {
			continue
		}
		indices = append(indices, i)
	}
	return indices
}
