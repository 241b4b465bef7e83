package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetexec/fleetexec/internal/cancel"
	"github.com/fleetexec/fleetexec/internal/classify"
	"github.com/fleetexec/fleetexec/internal/keymat"
	"github.com/fleetexec/fleetexec/internal/models"
	"github.com/fleetexec/fleetexec/internal/testutil"
	"github.com/fleetexec/fleetexec/internal/validate"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal in-process SSH server accepting password auth and
// replying to exec requests with a canned result.
type testServer struct {
	addr     string
	accepted atomic.Int64
	stdout   string
	stderr   string
	exit     uint32
}

func startTestServer(t *testing.T, password, stdout, stderr string, exit uint32) *testServer {
	t.Helper()
	testutil.SkipIfNoNetwork(t)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	conf := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("permission denied")
		},
	}
	conf.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), stdout: stdout, stderr: stderr, exit: exit}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.accepted.Add(1)
			go srv.handle(conn, conf)
		}
	}()
	return srv
}

func (s *testServer) handle(conn net.Conn, conf *ssh.ServerConfig) {
	defer conn.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(ch ssh.Channel, requests <-chan *ssh.Request) {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				ch.Write([]byte(s.stdout))
				ch.Stderr().Write([]byte(s.stderr))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{s.exit}))
				return
			}
		}(ch, requests)
	}
}

func (s *testServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func passwordTemplate(pw string) models.SessionConfig {
	return models.SessionConfig{
		Username:       "operator",
		Auth:           models.NewPasswordAuth([]byte(pw)),
		ConnectTimeout: 5 * time.Second,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	srv := startTestServer(t, "pw", "hi\n", "", 0)
	host, port := srv.hostPort(t)

	exec := NewExecutor(keymat.NewLoader())
	entry := models.HostEntry{IP: host, Port: port, Metadata: map[string]string{"vehicle_id": "V-172"}}

	out := exec.Execute(entry, passwordTemplate("pw"), 22, "echo hi", cancel.NewToken(), validate.AcceptAll)

	require.False(t, out.Failed(), "outcome: %+v", out.Err)
	require.Equal(t, host, out.Host)
	require.Equal(t, "hi\n", out.Result.Stdout)
	require.Equal(t, 0, out.Result.ExitStatus)
	require.Equal(t, "V-172", out.Result.VehicleID)
	require.False(t, out.Timestamp.IsZero())
}

func TestExecuteRemoteNonZero(t *testing.T) {
	srv := startTestServer(t, "pw", "", "permission denied\n", 1)
	host, port := srv.hostPort(t)

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: host, Port: port}, passwordTemplate("pw"), 22, "touch /root/x", cancel.NewToken(), validate.AcceptAll)

	// A non-zero exit is a populated result, not an error.
	require.False(t, out.Failed())
	require.Equal(t, 1, out.Result.ExitStatus)
	require.Equal(t, "permission denied\n", out.Result.Stderr)
}

func TestExecuteAuthDenied(t *testing.T) {
	srv := startTestServer(t, "right", "", "", 0)
	host, port := srv.hostPort(t)

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: host, Port: port}, passwordTemplate("wrong"), 22, "uptime", cancel.NewToken(), validate.AcceptAll)

	require.True(t, out.Failed())
	require.Equal(t, models.KindAuthDenied, out.Err.Kind)
	require.False(t, out.Err.Retryable)
}

func TestExecuteConnectionRefused(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	// Grab a port and close the listener so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: host, Port: port}, passwordTemplate("pw"), 22, "uptime", cancel.NewToken(), validate.AcceptAll)

	require.True(t, out.Failed())
	require.Equal(t, models.KindNetworkTransient, out.Err.Kind)
	require.True(t, out.Err.Retryable)
}

func TestExecuteValidationRejectionSkipsNetwork(t *testing.T) {
	srv := startTestServer(t, "pw", "", "", 0)
	host, port := srv.hostPort(t)

	rejecting := validate.Func(func(string) error {
		return fmt.Errorf("%w: contains ';'", classify.ErrValidationRejected)
	})

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: host, Port: port}, passwordTemplate("pw"), 22, "uptime; id", cancel.NewToken(), rejecting)

	require.True(t, out.Failed())
	require.Equal(t, models.KindCommandValidation, out.Err.Kind)
	require.Equal(t, int64(0), srv.accepted.Load(), "validator rejection must not open connections")
}

func TestExecuteBadKeySkipsNetwork(t *testing.T) {
	srv := startTestServer(t, "pw", "", "", 0)
	host, port := srv.hostPort(t)

	template := models.SessionConfig{
		Username:       "operator",
		Auth:           models.NewKeyAuth("/does/not/exist", nil),
		ConnectTimeout: 5 * time.Second,
	}

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: host, Port: port}, template, 22, "uptime", cancel.NewToken(), validate.AcceptAll)

	require.True(t, out.Failed())
	require.Equal(t, models.KindKeyMaterial, out.Err.Kind)
	require.Equal(t, int64(0), srv.accepted.Load(), "key failure must not open connections")
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	tok := cancel.NewToken()
	tok.Trip()

	exec := NewExecutor(keymat.NewLoader())
	out := exec.Execute(models.HostEntry{IP: "10.0.0.1"}, passwordTemplate("pw"), 22, "uptime", tok, validate.AcceptAll)

	require.True(t, out.Failed())
	require.Equal(t, models.KindCancelled, out.Err.Kind)
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	cfg := models.SessionConfig{
		Target:             models.Target{Host: host, Port: port},
		Username:           "operator",
		Auth:               models.NewPasswordAuth([]byte("pw")),
		ConnectTimeout:     2 * time.Second,
		ReconnectAttempts:  2,
		ReconnectDelayBase: 50 * time.Millisecond,
	}

	exec := NewExecutor(keymat.NewLoader())
	start := time.Now()
	_, err = exec.connect(cfg, cancel.NewToken())
	elapsed := time.Since(start)

	require.Error(t, err)
	// Two backoff sleeps happened: ~50ms + ~100ms, with ±20% jitter.
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "retries did not back off")
}

func TestConnectBackoffAbortsOnCancel(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	cfg := models.SessionConfig{
		Target:             models.Target{Host: host, Port: port},
		Username:           "operator",
		Auth:               models.NewPasswordAuth([]byte("pw")),
		ConnectTimeout:     2 * time.Second,
		ReconnectAttempts:  10,
		ReconnectDelayBase: 10 * time.Second,
	}

	tok := cancel.NewToken()
	go func() {
		time.Sleep(50 * time.Millisecond)
		tok.Trip()
	}()

	exec := NewExecutor(keymat.NewLoader())
	start := time.Now()
	_, err = exec.connect(cfg, tok)
	require.Error(t, err)
	require.True(t, errors.Is(err, classify.ErrCancelled))
	require.Less(t, time.Since(start), 5*time.Second, "cancel did not interrupt backoff sleep")
}

func TestExitStatusMapping(t *testing.T) {
	if got, err := exitStatus(nil); err != nil || got != 0 {
		t.Fatalf("exitStatus(nil) = %d, %v", got, err)
	}

	tests := []struct {
		name string
		sig  string
		want int
	}{
		{"KILL", "KILL", 137},
		{"TERM", "TERM", 143},
		{"HUP", "HUP", 129},
		{"SEGV", "SEGV", 139},
	}
	for _, tt := range tests {
		if got := 128 + signalNumber(tt.sig); got != tt.want {
			t.Errorf("signal %s -> %d, want %d", tt.sig, got, tt.want)
		}
	}
}
