package logging

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		hide string
	}{
		{"password assignment", "connect with password=hunter2 now", "hunter2"},
		{"passphrase colon", "passphrase: opensesame", "opensesame"},
		{"token", "using token=abc123def456", "abc123def456"},
		{"sshpass", "sshpass -p letmein ssh host", "letmein"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.in)
			if strings.Contains(out, tt.hide) {
				t.Errorf("Redact(%q) = %q, still contains %q", tt.in, out, tt.hide)
			}
		})
	}

	// Plain text passes through untouched.
	if out := Redact("connected to 10.0.0.1:22"); out != "connected to 10.0.0.1:22" {
		t.Errorf("Redact modified benign text: %q", out)
	}
}

func TestRedactMap(t *testing.T) {
	in := map[string]string{
		"host":       "10.0.0.1",
		"password":   "hunter2",
		"Passphrase": "opensesame",
		"details":    "auth with token=xyz",
	}
	out := RedactMap(in)

	if out["host"] != "10.0.0.1" {
		t.Errorf("benign field modified: %q", out["host"])
	}
	if out["password"] != RedactedValue || out["Passphrase"] != RedactedValue {
		t.Errorf("sensitive fields not redacted: %v", out)
	}
	if strings.Contains(out["details"], "xyz") {
		t.Errorf("embedded secret survived: %q", out["details"])
	}
}
