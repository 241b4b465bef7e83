// Package validate provides the pre-flight command validator consumed by the
// batch engine. The engine only depends on the Validator interface; the
// deny-list policy below is the default collaborator, not a rule the engine
// prescribes.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fleetexec/fleetexec/internal/classify"
)

// Validator decides whether a command may be executed.
type Validator interface {
	// Validate returns nil to accept the command. A rejection error wraps
	// classify.ErrValidationRejected.
	Validate(command string) error
}

// Func adapts a plain function to the Validator interface.
type Func func(command string) error

// Validate implements Validator.
func (f Func) Validate(command string) error { return f(command) }

// AcceptAll accepts every command. Used when validation is skipped.
var AcceptAll = Func(func(string) error { return nil })

// Command length bounds. The upper bound guards against pathological input.
const (
	minCommandLength = 1
	maxCommandLength = 10000
)

// Shell metacharacters that enable command chaining and injection.
var dangerousChars = []string{
	";", "|", "&", ">", "<", "`", "$", "(", ")", "{", "}",
	"\n", "\r", "\t", "\\", "'", "\"", "#", "*", "?", "[", "]",
}

// Destructive verbs rejected as the command's program name.
var dangerousCommands = []string{
	"rm", "dd", "mkfs", "fdisk", "parted",
	"shutdown", "reboot", "halt", "poweroff", "init",
	"killall", "pkill", "kill",
	"format", "del",
}

// Argument shapes that are destructive regardless of the verb.
var dangerousArguments = []string{
	"-rf", "-r -f", "-f -r",
	"/dev/", "/proc/", "/sys/",
	"of=/dev/", "if=/dev/zero", "if=/dev/urandom",
}

var (
	envVarPattern   = regexp.MustCompile(`\$\{?[A-Za-z_][A-Za-z0-9_]*\}?`)
	redirectPattern = regexp.MustCompile(`[<>]\s*[0-9]*`)
)

// DenyList is the default validator: a static deny-list of shell
// metacharacters, destructive verbs, and destructive argument shapes.
type DenyList struct{}

// NewDenyList returns the default deny-list validator.
func NewDenyList() *DenyList { return &DenyList{} }

// Validate implements Validator.
func (d *DenyList) Validate(command string) error {
	if len(command) < minCommandLength {
		return fmt.Errorf("%w: command is empty", classify.ErrValidationRejected)
	}
	if len(command) > maxCommandLength {
		return fmt.Errorf("%w: command exceeds %d characters", classify.ErrValidationRejected, maxCommandLength)
	}

	for _, c := range dangerousChars {
		if strings.Contains(command, c) {
			return fmt.Errorf("%w: command contains forbidden character %q", classify.ErrValidationRejected, c)
		}
	}

	trimmed := strings.TrimSpace(command)
	if strings.Contains(trimmed, "  ") {
		return fmt.Errorf("%w: command contains repeated whitespace", classify.ErrValidationRejected)
	}

	if envVarPattern.MatchString(command) {
		return fmt.Errorf("%w: environment variable expansion is not allowed", classify.ErrValidationRejected)
	}
	if redirectPattern.MatchString(command) {
		return fmt.Errorf("%w: output redirection is not allowed", classify.ErrValidationRejected)
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return fmt.Errorf("%w: command is empty", classify.ErrValidationRejected)
	}

	verb := baseName(fields[0])
	for _, banned := range dangerousCommands {
		if verb == banned {
			return fmt.Errorf("%w: command %q is not allowed", classify.ErrValidationRejected, verb)
		}
	}

	lower := strings.ToLower(trimmed)
	for _, arg := range dangerousArguments {
		if strings.Contains(lower, arg) {
			return fmt.Errorf("%w: command contains forbidden argument %q", classify.ErrValidationRejected, arg)
		}
	}

	return nil
}

// baseName strips any path prefix so "/bin/rm" is recognized as "rm".
func baseName(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Patterns whose following token is masked when commands are echoed to logs.
var sensitiveTokens = []string{
	"passwd", "password", "-p", "--password", "sshpass",
	"passphrase", "secret", "token", "key=",
}

// SanitizeForLogging masks credential-looking tokens so audit records and log
// lines never echo secrets typed into a command.
func SanitizeForLogging(command string) string {
	fields := strings.Fields(command)
	for i, f := range fields {
		lower := strings.ToLower(f)
		for _, tok := range sensitiveTokens {
			if strings.Contains(lower, tok) && i+1 < len(fields) {
				fields[i+1] = "***"
				break
			}
		}
		if i > 0 && strings.Contains(lower, "=") {
			name := strings.SplitN(lower, "=", 2)[0]
			for _, tok := range sensitiveTokens {
				if strings.Contains(name, strings.TrimSuffix(tok, "=")) {
					fields[i] = strings.SplitN(f, "=", 2)[0] + "=***"
					break
				}
			}
		}
	}
	return strings.Join(fields, " ")
}

// Preview truncates a sanitized command for log lines.
func Preview(command string, max int) string {
	s := SanitizeForLogging(command)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
