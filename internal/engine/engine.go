// Package engine exposes the command surface the UI layer drives: single-host
// execution, batch execution with retry, and cancellation.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetexec/fleetexec/internal/audit"
	"github.com/fleetexec/fleetexec/internal/batch"
	"github.com/fleetexec/fleetexec/internal/cancel"
	"github.com/fleetexec/fleetexec/internal/events"
	"github.com/fleetexec/fleetexec/internal/keymat"
	"github.com/fleetexec/fleetexec/internal/logging"
	"github.com/fleetexec/fleetexec/internal/models"
	"github.com/fleetexec/fleetexec/internal/session"
	"github.com/fleetexec/fleetexec/internal/validate"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// connectionTestCommand is what TestConnection runs remotely.
const connectionTestCommand = "echo 'Connection test successful'"

// Engine wires the scheduler, session executor, key cache, validator, and
// audit sink together. One Engine serves many sequential batch runs; each run
// gets its own cancellation token and key cache.
type Engine struct {
	recorder  audit.Recorder
	validator validate.Validator
	log       zerolog.Logger

	mu     sync.Mutex
	active *cancel.Token

	// newRunner builds the per-batch host runner. Tests swap it for stubs.
	newRunner func(template models.SessionConfig, defaultPort int, command string, v validate.Validator, keys *keymat.Loader) batch.Runner
}

// New creates an engine. A nil recorder disables auditing; a nil validator
// accepts every command (callers normally pass the deny-list default).
func New(recorder audit.Recorder, validator validate.Validator) *Engine {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if validator == nil {
		validator = validate.AcceptAll
	}
	return &Engine{
		recorder:  recorder,
		validator: validator,
		log:       logging.Component("engine"),
		newRunner: sessionRunner,
	}
}

// sessionRunner executes each host over a fresh SSH session.
func sessionRunner(template models.SessionConfig, defaultPort int, command string, v validate.Validator, keys *keymat.Loader) batch.Runner {
	exec := session.NewExecutor(keys)
	return batch.RunnerFunc(func(host models.HostEntry, tok *cancel.Token) *models.BatchOutcome {
		return exec.Execute(host, template, defaultPort, command, tok, v)
	})
}

// ExecuteSSHCommand runs a single command on a single host. A failure of the
// execution itself is returned as a *models.ErrorDesc; an invalid host entry
// or template is returned as a plain error before anything runs.
func (e *Engine) ExecuteSSHCommand(host models.HostEntry, template models.SessionConfig, defaultPort int, command string, skipValidation bool) (*models.CommandResult, error) {
	if err := host.Validate(); err != nil {
		return nil, err
	}
	if err := template.Validate(); err != nil {
		return nil, err
	}

	v := e.validator
	if skipValidation {
		v = validate.AcceptAll
	}

	tok := e.installToken()
	defer e.clearToken(tok)

	e.recorder.Record(audit.LevelInfo, "execute_command",
		fmt.Sprintf("run on %s: %s", host.IP, validate.Preview(command, 100)), "")

	keys := keymat.NewLoader()
	defer keys.Reset()

	out := e.newRunner(template, defaultPort, command, v, keys).Run(host, tok)
	if out.Failed() {
		e.recorder.Record(audit.LevelError, "command_error",
			fmt.Sprintf("failed on %s: %s", host.IP, out.Err.Message), "")
		return nil, out.Err
	}
	return out.Result, nil
}

// TestConnection checks reachability and credentials by running a harmless
// echo on the target.
func (e *Engine) TestConnection(host models.HostEntry, template models.SessionConfig, defaultPort int) (*models.CommandResult, error) {
	e.recorder.Record(audit.LevelInfo, "test_connection",
		fmt.Sprintf("connection test to %s", host.IP), "")
	return e.ExecuteSSHCommand(host, template, defaultPort, connectionTestCommand, true)
}

// ExecuteBatchCommands runs req across its host list, emitting per-host
// results and progress to sink while the call is in flight. The returned
// slice is indexed like req.Hosts and carries each host's most recent
// outcome. Scheduler-internal failures are the only errors returned; per-host
// failures live inside the outcomes.
func (e *Engine) ExecuteBatchCommands(req models.BatchRequest, sink events.Sink) ([]models.BatchOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.ConfigTemplate.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Discard
	}

	v := e.validator
	if req.SkipValidation {
		v = validate.AcceptAll
	}

	runID := uuid.New().String()[:8]
	log := e.log.With().Str("batch", runID).Logger()

	tok := e.installToken()
	defer e.clearToken(tok)

	keys := keymat.NewLoader()
	defer keys.Reset()

	log.Info().Int("hosts", len(req.Hosts)).Int("max_concurrent", req.MaxConcurrent).
		Msg("batch starting")
	e.recorder.Record(audit.LevelInfo, "batch_execute",
		fmt.Sprintf("batch of %d hosts: %s", len(req.Hosts), validate.Preview(req.Command, 100)), "")

	// The validator runs inside the session executor, once per host before
	// any network activity; a rejection is that host's terminal outcome.
	runner := e.auditedRunner(e.newRunner(req.ConfigTemplate, req.DefaultPort, req.Command, v, keys))
	orch := batch.NewOrchestrator(batch.NewScheduler(runner))

	start := time.Now()
	results, err := orch.Run(req, sink, tok)
	if err != nil {
		e.recorder.Record(audit.LevelError, "batch_failed", err.Error(), "")
		return nil, err
	}

	succeeded := 0
	for i := range results {
		if !results[i].Failed() {
			succeeded++
		}
	}
	log.Info().Int("succeeded", succeeded).Int("failed", len(results)-succeeded).
		Dur("elapsed", time.Since(start)).Msg("batch complete")
	e.recorder.Record(audit.LevelInfo, "batch_complete",
		fmt.Sprintf("%d/%d succeeded in %.1fs", succeeded, len(results), time.Since(start).Seconds()), "")

	return results, nil
}

// CancelCommandExecution trips the active run's token. A no-op when nothing
// is running.
func (e *Engine) CancelCommandExecution() {
	e.mu.Lock()
	tok := e.active
	e.mu.Unlock()
	if tok != nil {
		tok.Trip()
		e.recorder.Record(audit.LevelInfo, "cancel_command", "execution cancelled by operator", "")
	}
}

// auditedRunner records one audit entry per host completion.
func (e *Engine) auditedRunner(inner batch.Runner) batch.Runner {
	return batch.RunnerFunc(func(host models.HostEntry, tok *cancel.Token) *models.BatchOutcome {
		out := inner.Run(host, tok)
		switch {
		case out == nil:
		case out.Failed():
			e.recorder.Record(audit.LevelError, "batch_host_error",
				fmt.Sprintf("%s: %s", host.IP, out.Err.Message), "")
		case out.Result.ExitStatus != 0:
			e.recorder.Record(audit.LevelWarn, "batch_host_warning",
				fmt.Sprintf("%s: exit status %d", host.IP, out.Result.ExitStatus), "")
		default:
			e.recorder.Record(audit.LevelInfo, "batch_host_success",
				fmt.Sprintf("%s: exit status 0", host.IP), "")
		}
		return out
	})
}

func (e *Engine) installToken() *cancel.Token {
	tok := cancel.NewToken()
	e.mu.Lock()
	e.active = tok
	e.mu.Unlock()
	return tok
}

func (e *Engine) clearToken(tok *cancel.Token) {
	e.mu.Lock()
	if e.active == tok {
		e.active = nil
	}
	e.mu.Unlock()
}
