// Package models defines the data types shared by the batch SSH engine.
package models

import (
	"fmt"
	"time"
)

// MetadataVehicleID is the host metadata key copied into CommandResult.
const MetadataVehicleID = "vehicle_id"

// HostEntry identifies a single target machine.
type HostEntry struct {
	// IP is an IPv4/IPv6 literal or a DNS name. Required.
	IP string `json:"ip"`

	// Port overrides the batch template's port when non-zero.
	Port int `json:"port,omitempty"`

	// Hostname is an optional display label.
	Hostname string `json:"hostname,omitempty"`

	// Metadata is opaque to the engine and passed through to results.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the entry can be targeted.
func (h *HostEntry) Validate() error {
	if h.IP == "" {
		return fmt.Errorf("host entry: ip is required")
	}
	if h.Port != 0 && (h.Port < 1 || h.Port > 65535) {
		return fmt.Errorf("host entry %s: port %d out of range", h.IP, h.Port)
	}
	return nil
}

// Target describes where a session connects.
type Target struct {
	Host string
	Port int
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// SessionConfig carries the per-session parameters. It is built by merging a
// batch template with a HostEntry: the host's port wins when present.
type SessionConfig struct {
	Target             Target
	Username           string
	Auth               *AuthMaterial
	ConnectTimeout     time.Duration
	KeepAliveInterval  time.Duration
	ReconnectAttempts  int
	ReconnectDelayBase time.Duration
	CompressionEnabled bool
	CompressionLevel   int
}

// Validate checks the session parameters against their allowed ranges.
func (c *SessionConfig) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("session config: username is required")
	}
	if c.ConnectTimeout < time.Second || c.ConnectTimeout > 300*time.Second {
		return fmt.Errorf("session config: connect timeout %s out of range [1s,300s]", c.ConnectTimeout)
	}
	if c.ReconnectAttempts < 0 || c.ReconnectAttempts > 10 {
		return fmt.Errorf("session config: reconnect attempts %d out of range [0,10]", c.ReconnectAttempts)
	}
	if c.ReconnectDelayBase != 0 &&
		(c.ReconnectDelayBase < 100*time.Millisecond || c.ReconnectDelayBase > 10*time.Second) {
		return fmt.Errorf("session config: reconnect delay base %s out of range [100ms,10s]", c.ReconnectDelayBase)
	}
	if c.CompressionEnabled && (c.CompressionLevel < 1 || c.CompressionLevel > 9) {
		return fmt.Errorf("session config: compression level %d out of range [1,9]", c.CompressionLevel)
	}
	if c.Auth == nil {
		return fmt.Errorf("session config: auth material is required")
	}
	return c.Auth.Validate()
}

// ForHost returns a copy of the config retargeted at the given host.
func (c SessionConfig) ForHost(host HostEntry, defaultPort int) SessionConfig {
	port := defaultPort
	if port == 0 {
		port = 22
	}
	if host.Port != 0 {
		port = host.Port
	}
	c.Target = Target{Host: host.IP, Port: port}
	return c
}

// CommandResult is the outcome of a command that actually ran on the remote
// side. A non-zero ExitStatus is a remote-side failure, not a connection
// failure.
type CommandResult struct {
	Host       string    `json:"host"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitStatus int       `json:"exit_status"`
	VehicleID  string    `json:"vehicle_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchOutcome is the terminal per-host record of one attempt round. Exactly
// one of Result and Err is set.
type BatchOutcome struct {
	Host      string         `json:"host"`
	Result    *CommandResult `json:"result,omitempty"`
	Err       *ErrorDesc     `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Failed reports whether the outcome carries an error descriptor.
func (o *BatchOutcome) Failed() bool { return o.Err != nil }

// ErrorDesc describes a classified failure. Retryable is derived from Kind
// once and never reconsidered.
type ErrorDesc struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *ErrorDesc) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind is the closed set of failure categories.
type ErrorKind string

// Failure categories. RemoteNonZero never appears in an ErrorDesc; it is
// carried inside a CommandResult as a non-zero exit status.
const (
	KindCommandValidation ErrorKind = "CommandValidation"
	KindKeyMaterial       ErrorKind = "KeyMaterial"
	KindAuthDenied        ErrorKind = "AuthDenied"
	KindNetworkTransient  ErrorKind = "NetworkTransient"
	KindTimeout           ErrorKind = "Timeout"
	KindCancelled         ErrorKind = "Cancelled"
	KindUnknown           ErrorKind = "Unknown"
)

// ProgressRecord reports batch completion progress. Completed is monotonically
// non-decreasing within a batch.
type ProgressRecord struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Host      string `json:"host"`
}

// BatchRequest is the immutable input to a batch run.
type BatchRequest struct {
	// Hosts is the ordered target list. Duplicates are permitted.
	Hosts []HostEntry

	// ConfigTemplate is the session template applied to every host. Its
	// Target field is ignored; per-host targets are derived from Hosts.
	ConfigTemplate SessionConfig

	// DefaultPort is used for hosts that carry no port of their own.
	DefaultPort int

	// Command is the shell command to run on every host.
	Command string

	// MaxConcurrent bounds the number of simultaneously open sessions.
	MaxConcurrent int

	// RetryFailedHosts re-queues hosts whose failure is retryable.
	RetryFailedHosts bool

	// RetryInterval is the wall-clock pause between retry rounds.
	RetryInterval time.Duration

	// RetryMaxAttempts caps retry rounds per host. 0 means unbounded
	// until cancellation.
	RetryMaxAttempts int

	// SkipValidation bypasses the external command validator.
	SkipValidation bool
}

// Validate checks the request before any work is dispatched.
func (r *BatchRequest) Validate() error {
	if len(r.Hosts) == 0 {
		return fmt.Errorf("batch request: host list is empty")
	}
	if r.Command == "" {
		return fmt.Errorf("batch request: command is empty")
	}
	if r.MaxConcurrent < 1 || r.MaxConcurrent > 500 {
		return fmt.Errorf("batch request: max concurrent %d out of range [1,500]", r.MaxConcurrent)
	}
	if r.RetryMaxAttempts < 0 {
		return fmt.Errorf("batch request: retry max attempts must be >= 0")
	}
	for i := range r.Hosts {
		if err := r.Hosts[i].Validate(); err != nil {
			return fmt.Errorf("batch request: host %d: %w", i, err)
		}
	}
	return nil
}
