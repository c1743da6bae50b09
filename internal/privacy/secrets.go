// Package privacy provides utilities for protecting sensitive data.
// Feedback collected from support channels routinely carries pasted
// credentials; text is redacted before it is queued or embedded.
package privacy

import (
	"regexp"
	"strings"

	"github.com/thebtf/cohort/pkg/models"
)

// secretPatterns contains compiled regular expressions for detecting secrets
// in feedback text. Bug reports and support tickets paste whole config
// snippets and stack traces, so the set covers both key=value assignments
// and the bare token formats of the services feedback arrives from.
var secretPatterns = []*regexp.Regexp{
	// API keys with common prefixes
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),

	// Passwords in configuration
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"]{8,}['"]`),

	// Secret tokens
	regexp.MustCompile(`(?i)(secret[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),

	// OpenAI API keys
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),

	// Stripe live keys
	regexp.MustCompile(`[sr]k_live_[a-zA-Z0-9]{16,}`),

	// GitHub tokens
	regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),

	// Slack tokens and webhook URLs
	regexp.MustCompile(`xox[baprs]-[a-zA-Z0-9-]{10,}`),
	regexp.MustCompile(`hooks\.slack\.com/services/T[a-zA-Z0-9]+/B[a-zA-Z0-9]+/[a-zA-Z0-9]+`),

	// Sentry DSNs (pasted straight out of SDK init snippets)
	regexp.MustCompile(`https://[0-9a-f]{16,}@[a-z0-9.-]*sentry\.io/\d+`),

	// AWS keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`),

	// Private keys (PEM format indicators)
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),

	// JWT tokens (base64.base64.base64 format)
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),

	// Generic bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
}

// ContainsSecrets checks if the given text contains any patterns that look
// like secrets.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}

	for _, pattern := range secretPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// RedactSecrets replaces detected secrets with a redaction marker. The text
// stays usable for embedding and clustering while the credential is gone.
func RedactSecrets(text string) string {
	if text == "" {
		return text
	}

	result := text
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Preserve the key name, redact only the value
			if idx := strings.Index(match, "="); idx != -1 {
				return match[:idx+1] + "[REDACTED]"
			}
			if idx := strings.Index(match, ":"); idx != -1 {
				return match[:idx+1] + "[REDACTED]"
			}
			// For standalone secrets, show just the prefix
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}

// RedactFeedback returns a copy of the feedback ref with secrets removed
// from its title and text.
func RedactFeedback(ref models.FeedbackRef) models.FeedbackRef {
	ref.Title = RedactSecrets(ref.Title)
	ref.Text = RedactSecrets(ref.Text)
	return ref
}
