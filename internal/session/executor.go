// Package session opens one SSH session per command execution. Each command
// gets a fresh connection; nothing is kept alive between commands.
package session

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/fleetexec/fleetexec/internal/cancel"
	"github.com/fleetexec/fleetexec/internal/classify"
	"github.com/fleetexec/fleetexec/internal/keymat"
	"github.com/fleetexec/fleetexec/internal/logging"
	"github.com/fleetexec/fleetexec/internal/models"
	"github.com/fleetexec/fleetexec/internal/validate"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Executor runs single commands over fresh SSH sessions.
type Executor struct {
	keys *keymat.Loader
	log  zerolog.Logger
}

// NewExecutor creates an executor sharing the given key loader. The loader's
// cache makes every session of a batch reuse the same parsed signer.
func NewExecutor(keys *keymat.Loader) *Executor {
	return &Executor{
		keys: keys,
		log:  logging.Component("session"),
	}
}

// Execute runs command on host, merging host into the template. It always
// returns a terminal outcome; errors never escape as panics or nils.
func (e *Executor) Execute(host models.HostEntry, template models.SessionConfig, defaultPort int, command string, tok *cancel.Token, validator validate.Validator) *models.BatchOutcome {
	outcome := func(err error) *models.BatchOutcome {
		return &models.BatchOutcome{
			Host:      host.IP,
			Err:       classify.Error(err),
			Timestamp: time.Now().UTC(),
		}
	}

	if tok.IsTripped() {
		return outcome(classify.ErrCancelled)
	}

	// Pre-flight validation happens before any network activity.
	if validator != nil {
		if err := validator.Validate(command); err != nil {
			return outcome(err)
		}
	}

	cfg := template.ForHost(host, defaultPort)

	client, err := e.connect(cfg, tok)
	if err != nil {
		if tok.IsTripped() {
			return outcome(classify.ErrCancelled)
		}
		return outcome(err)
	}
	defer client.Close()

	result, err := e.run(client, cfg, command, tok)
	if err != nil {
		if tok.IsTripped() {
			return outcome(classify.ErrCancelled)
		}
		return outcome(err)
	}

	result.Host = host.IP
	if vid, ok := host.Metadata[models.MetadataVehicleID]; ok {
		result.VehicleID = vid
	}
	return &models.BatchOutcome{
		Host:      host.IP,
		Result:    result,
		Timestamp: result.Timestamp,
	}
}

// connect dials and authenticates, applying the reconnect policy for
// transient connect-level failures. Auth and key failures short-circuit.
func (e *Executor) connect(cfg models.SessionConfig, tok *cancel.Token) (*ssh.Client, error) {
	attempts := cfg.ReconnectAttempts
	backoff := Backoff{Base: cfg.ReconnectDelayBase, Jitter: true}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if tok.IsTripped() {
			return nil, classify.ErrCancelled
		}

		client, err := e.dialOnce(cfg, tok)
		if err == nil {
			if attempt > 0 {
				e.log.Warn().Str("host", cfg.Target.Host).Int("attempts", attempt+1).
					Msg("connected after retries")
			}
			return client, nil
		}
		lastErr = err

		kind := classify.Error(err).Kind
		if kind != models.KindNetworkTransient && kind != models.KindTimeout {
			return nil, err
		}
		if attempt >= attempts {
			return nil, lastErr
		}

		delay := backoff.Delay(attempt + 1)
		e.log.Warn().Str("host", cfg.Target.Host).Int("attempt", attempt+1).
			Dur("retry_in", delay).Msg("connect failed, retrying")
		if tok.Sleep(delay) {
			return nil, classify.ErrCancelled
		}
	}
}

// dialOnce opens a fresh TCP connection, handshakes, and authenticates.
func (e *Executor) dialOnce(cfg models.SessionConfig, tok *cancel.Token) (*ssh.Client, error) {
	auth, closeAuth, err := e.authMethods(cfg.Auth)
	if err != nil {
		return nil, err
	}
	defer closeAuth()

	if cfg.CompressionEnabled {
		// This SSH stack offers no compression algorithm; the request is
		// logged and the session proceeds uncompressed.
		e.log.Warn().Str("host", cfg.Target.Host).Int("level", cfg.CompressionLevel).
			Msg("compression requested but not supported; proceeding uncompressed")
	}

	clientConf := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", cfg.Target.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Target.Addr(), err)
	}

	// Watch the token for the duration of handshake and auth: closing the
	// raw connection is the only way to interrupt them.
	stop := watchCancel(conn, tok)

	if err := conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout)); err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	sconn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Target.Addr(), clientConf)
	if err != nil {
		stop()
		conn.Close()
		if tok.IsTripped() {
			return nil, classify.ErrCancelled
		}
		return nil, fmt.Errorf("handshake with %s: %w", cfg.Target.Addr(), err)
	}

	// Authentication is done; lift the connect deadline so long-running
	// commands are not cut off.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		stop()
		sconn.Close()
		return nil, err
	}
	stop()

	client := ssh.NewClient(sconn, chans, reqs)

	if cfg.KeepAliveInterval > 0 {
		go keepAlive(client, cfg.KeepAliveInterval, tok)
	}
	return client, nil
}

// authMethods resolves the auth material into ssh auth methods. The returned
// cleanup wipes any transient copies of the password.
func (e *Executor) authMethods(auth *models.AuthMaterial) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}
	if auth == nil {
		return nil, noop, fmt.Errorf("%w: no auth material", classify.ErrKeyMaterial)
	}

	switch auth.Method {
	case models.AuthPassword:
		if auth.Password == nil || auth.Password.Len() == 0 {
			return nil, noop, fmt.Errorf("%w: password is empty", classify.ErrAuthDenied)
		}
		// The ssh library needs a string; the copy lives only as long as
		// the dial.
		pw := string(auth.Password.Bytes())
		return []ssh.AuthMethod{ssh.Password(pw)}, noop, nil

	case models.AuthOpenSSHKey, models.AuthPuttyKey:
		signer, err := e.keys.Load(auth)
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil

	default:
		return nil, noop, fmt.Errorf("%w: unknown auth method %q", classify.ErrKeyMaterial, auth.Method)
	}
}

// run opens the exec channel, drains output, and extracts the exit status.
func (e *Executor) run(client *ssh.Client, cfg models.SessionConfig, command string, tok *cancel.Token) (*models.CommandResult, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", cfg.Target.Host, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start command on %s: %w", cfg.Target.Host, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	var waitErr error
	select {
	case <-tok.Done():
		// Closing the client tears the channel down and unblocks Wait.
		client.Close()
		<-done
		return nil, classify.ErrCancelled
	case waitErr = <-done:
	}

	status, err := exitStatus(waitErr)
	if err != nil {
		return nil, err
	}

	return &models.CommandResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitStatus: status,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// exitStatus maps the session wait error onto the remote exit code. A death
// by signal synthesizes 128 + signal number.
func exitStatus(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	if ee, ok := waitErr.(*ssh.ExitError); ok {
		if sig := ee.Signal(); sig != "" {
			return 128 + signalNumber(sig), nil
		}
		return ee.ExitStatus(), nil
	}
	if _, ok := waitErr.(*ssh.ExitMissingError); ok {
		return 0, fmt.Errorf("remote exited without status: %w", waitErr)
	}
	return 0, waitErr
}

// signalNumber maps the SSH signal names to POSIX numbers.
func signalNumber(name string) int {
	switch name {
	case "HUP":
		return 1
	case "INT":
		return 2
	case "QUIT":
		return 3
	case "ILL":
		return 4
	case "ABRT":
		return 6
	case "FPE":
		return 8
	case "KILL":
		return 9
	case "USR1":
		return 10
	case "SEGV":
		return 11
	case "USR2":
		return 12
	case "PIPE":
		return 13
	case "ALRM":
		return 14
	case "TERM":
		return 15
	default:
		return 0
	}
}

// watchCancel closes conn when the token trips, interrupting any blocking
// read inside the handshake. The returned stop function ends the watch.
func watchCancel(conn net.Conn, tok *cancel.Token) func() {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-tok.Done():
			conn.Close()
		case <-stopped:
		}
	}()
	return func() { close(stopped) }
}

// keepAlive pings the server until the client closes or the token trips.
// A failed probe closes the client, which ends any blocked read; the session
// then fails with the resulting wait error, which is not reported as a
// Timeout.
func keepAlive(client *ssh.Client, interval time.Duration, tok *cancel.Token) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-tok.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}
