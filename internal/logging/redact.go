package logging

import (
	"regexp"
	"strings"
)

// Credential-bearing field names redacted from structured details.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"credential",
	"private_key",
	"privatekey",
}

// Patterns for secrets embedded inside free-form text.
var secretPatterns = []*regexp.Regexp{
	// key=value / key: value assignments with secret-looking names
	regexp.MustCompile(`(?i)(password|passphrase|secret|token|credential)[=:]\s*\S+`),
	// sshpass -p style inline passwords
	regexp.MustCompile(`(?i)(sshpass\s+-p\s+)\S+`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces credential-looking substrings in free-form text.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
	}
	return result
}

// RedactMap redacts sensitive fields in a detail map before it is logged or
// written to the audit sink.
func RedactMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		lowerKey := strings.ToLower(k)
		sensitive := false
		for _, field := range sensitiveFields {
			if strings.Contains(lowerKey, field) {
				sensitive = true
				break
			}
		}
		if sensitive {
			result[k] = RedactedValue
		} else {
			result[k] = Redact(v)
		}
	}
	return result
}
