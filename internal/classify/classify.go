// Package classify maps failures onto the engine's closed error taxonomy.
//
// Classification looks only at message text and typed causes, never at stack
// traces. The phrase tables carry both the English phrasings produced by the
// ssh stack and the Russian phrasings the fleet tooling historically emitted,
// so results imported from either side classify identically.
package classify

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/fleetexec/fleetexec/internal/models"

	"golang.org/x/crypto/ssh"
)

// Sentinel causes recognized ahead of the phrase tables.
var (
	// ErrCancelled marks a locally cancelled operation.
	ErrCancelled = errors.New("execution cancelled")

	// ErrValidationRejected marks a pre-flight command rejection.
	ErrValidationRejected = errors.New("command rejected by validator")

	// ErrKeyMaterial marks unusable key material.
	ErrKeyMaterial = errors.New("key material unusable")

	// ErrAuthDenied marks credentials rejected by the server.
	ErrAuthDenied = errors.New("authentication denied")
)

// Ordered phrase tables. First matching rule wins, so a message such as
// "validation failed: connection refused" still classifies as validation.
var (
	validationPhrases = []string{
		"command rejected by validator",
		"command validation",
		"validation failed",
		"dangerous command",
		"ошибка валидации команды",
		"команда содержит недопустимый символ",
		"команда не может быть пустой",
	}

	keyMaterialPhrases = []string{
		"key file not found",
		"ppk file not found",
		"key path is required",
		"ppk path is required",
		"no key found",
		"failed to parse private key",
		"ssh: no key found",
		"ssh: this private key is passphrase protected",
		"incorrect passphrase",
		"decryption password incorrect",
		"x509: decryption password incorrect",
		"invalid key format",
		"malformed private key",
		"путь к ключу не указан",
		"файл ключа не найден",
		"неверный passphrase",
	}

	authDeniedPhrases = []string{
		"unable to authenticate",
		"no supported methods remain",
		"authentication failed",
		"permission denied",
		"password auth failed",
		"handshake failed: ssh: unable to authenticate",
		"аутентификация не удалась",
		"доступ запрещён",
		"доступ запрещен",
	}

	networkPhrases = []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network is unreachable",
		"host is down",
		"broken pipe",
		"no such host",
		"cannot resolve",
		"failed to resolve",
		"failed to connect",
		"connection failed",
		"не удалось установить соединение",
		"ошибка подключения",
		"хост недоступен",
	}

	timeoutPhrases = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"keep-alive probe failed",
		"превышено время ожидания",
		"таймаут",
	}

	cancelledPhrases = []string{
		"execution cancelled",
		"operation was canceled",
		"context canceled",
		"выполнение отменено",
		"выполнение команды отменено",
	}
)

// Error builds a Descriptor for err. A nil error yields nil.
func Error(err error) *models.ErrorDesc {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	return &models.ErrorDesc{
		Kind:      kind,
		Message:   messageFor(kind, err),
		Retryable: Retryable(kind),
	}
}

// Message classifies a bare failure string, e.g. a parsed stderr line.
func Message(msg string) *models.ErrorDesc {
	return Error(errors.New(msg))
}

// Retryable is a total function of kind.
func Retryable(kind models.ErrorKind) bool {
	switch kind {
	case models.KindNetworkTransient, models.KindTimeout, models.KindUnknown:
		return true
	default:
		return false
	}
}

func kindOf(err error) models.ErrorKind {
	// Typed causes first: they are authoritative regardless of wording.
	switch {
	case errors.Is(err, ErrValidationRejected):
		return models.KindCommandValidation
	case errors.Is(err, ErrKeyMaterial):
		return models.KindKeyMaterial
	case errors.Is(err, ErrAuthDenied):
		return models.KindAuthDenied
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return models.KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return models.KindTimeout
	case errors.Is(err, os.ErrNotExist):
		return models.KindKeyMaterial
	}

	var passMissing *ssh.PassphraseMissingError
	if errors.As(err, &passMissing) {
		return models.KindKeyMaterial
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.KindNetworkTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case matchAny(msg, validationPhrases):
		return models.KindCommandValidation
	case matchAny(msg, keyMaterialPhrases):
		return models.KindKeyMaterial
	case matchAny(msg, authDeniedPhrases):
		return models.KindAuthDenied
	case matchAny(msg, networkPhrases):
		return models.KindNetworkTransient
	case matchAny(msg, timeoutPhrases):
		return models.KindTimeout
	case matchAny(msg, cancelledPhrases):
		return models.KindCancelled
	}

	// Conservative default: a transient mystery should not be given up on.
	return models.KindUnknown
}

func matchAny(msg string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// messageFor prefixes the raw error with a remediation hint per kind.
func messageFor(kind models.ErrorKind, err error) string {
	raw := err.Error()
	switch kind {
	case models.KindCommandValidation:
		return "Command rejected before execution: " + raw
	case models.KindKeyMaterial:
		return raw + ". Check key path and passphrase."
	case models.KindAuthDenied:
		return raw + ". Check username and credentials, and that the key matches the remote user."
	case models.KindNetworkTransient:
		return raw + ". Check that the host is reachable and the port is correct."
	case models.KindTimeout:
		return raw + ". Check host availability and the connect timeout setting."
	case models.KindCancelled:
		return "Execution cancelled"
	default:
		return raw
	}
}
