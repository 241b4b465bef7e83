package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fleetexec/fleetexec/internal/models"
)

func TestKindOfMessages(t *testing.T) {
	tests := []struct {
		msg  string
		want models.ErrorKind
	}{
		{"command rejected by validator: contains ';'", models.KindCommandValidation},
		{"Ошибка валидации команды: команда содержит недопустимый символ: '|'", models.KindCommandValidation},
		{"ssh: no key found", models.KindKeyMaterial},
		{"open /home/op/id_rsa: no such file or directory, key file not found", models.KindKeyMaterial},
		{"x509: decryption password incorrect", models.KindKeyMaterial},
		{"файл ключа не найден: /tmp/id_rsa", models.KindKeyMaterial},
		{"ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]", models.KindAuthDenied},
		{"Permission denied (publickey)", models.KindAuthDenied},
		{"аутентификация не удалась для root@10.0.0.1", models.KindAuthDenied},
		{"dial tcp 10.0.0.1:22: connect: connection refused", models.KindNetworkTransient},
		{"read tcp 10.0.0.1:22: connection reset by peer", models.KindNetworkTransient},
		{"connect: no route to host", models.KindNetworkTransient},
		{"lookup bad.example: no such host", models.KindNetworkTransient},
		{"не удалось установить соединение", models.KindNetworkTransient},
		{"dial tcp 10.0.0.1:22: i/o timeout", models.KindTimeout},
		{"keep-alive probe failed after 30s", models.KindTimeout},
		{"превышено время ожидания", models.KindTimeout},
		{"выполнение отменено", models.KindCancelled},
		{"execution cancelled", models.KindCancelled},
		{"some inscrutable failure", models.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			desc := Message(tt.msg)
			if desc.Kind != tt.want {
				t.Errorf("Message(%q).Kind = %s, want %s", tt.msg, desc.Kind, tt.want)
			}
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	// A validation rejection that happens to mention a network phrase must
	// still classify as validation.
	desc := Message("validation failed: command would cause connection refused storms")
	if desc.Kind != models.KindCommandValidation {
		t.Fatalf("Kind = %s, want CommandValidation", desc.Kind)
	}
}

func TestTypedCausesBeatPhrases(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"wrapped cancel sentinel", fmt.Errorf("host 10.0.0.1: %w", ErrCancelled), models.KindCancelled},
		{"context canceled", context.Canceled, models.KindCancelled},
		{"context deadline", context.DeadlineExceeded, models.KindTimeout},
		{"validator sentinel", fmt.Errorf("%w: contains 'rm -rf'", ErrValidationRejected), models.KindCommandValidation},
		{"key sentinel", fmt.Errorf("%w: truncated PEM", ErrKeyMaterial), models.KindKeyMaterial},
		{"auth sentinel", fmt.Errorf("%w for user root", ErrAuthDenied), models.KindAuthDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Error(tt.err).Kind; got != tt.want {
				t.Errorf("Kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryableIsTotalOverKinds(t *testing.T) {
	want := map[models.ErrorKind]bool{
		models.KindCommandValidation: false,
		models.KindKeyMaterial:       false,
		models.KindAuthDenied:        false,
		models.KindNetworkTransient:  true,
		models.KindTimeout:           true,
		models.KindCancelled:         false,
		models.KindUnknown:           true,
	}
	for kind, retryable := range want {
		if got := Retryable(kind); got != retryable {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, retryable)
		}
	}
}

func TestDeterminism(t *testing.T) {
	msgs := []string{
		"connection refused",
		"permission denied",
		"gibberish",
		"выполнение отменено",
	}
	for _, msg := range msgs {
		a, b := Message(msg), Message(msg)
		if a.Kind != b.Kind || a.Retryable != b.Retryable {
			t.Errorf("classify(%q) not deterministic: %+v vs %+v", msg, a, b)
		}
		if a.Retryable != Retryable(a.Kind) {
			t.Errorf("classify(%q).Retryable inconsistent with kind %s", msg, a.Kind)
		}
	}
}

func TestNilError(t *testing.T) {
	if Error(nil) != nil {
		t.Fatal("Error(nil) should be nil")
	}
}

func TestMessagesCarryRemediation(t *testing.T) {
	desc := Error(errors.New("ssh: no key found"))
	if desc.Message == "" || desc.Message == "ssh: no key found" {
		t.Fatalf("expected remediation hint, got %q", desc.Message)
	}
}
