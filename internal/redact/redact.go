// Package redact strips secrets from strings before they are logged or
// returned to API clients. Matrix access tokens, control API tokens,
// database credentials, file paths, stack traces and SQL are replaced with
// placeholders.
package redact

import "regexp"

// Placeholders substituted for redacted fragments.
const (
	RedactedCredentialPlaceholder  = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder         = "[REDACTED_KEY]"
	RedactedMatrixTokenPlaceholder = "[REDACTED_MATRIX_TOKEN]"
	RedactedJWTPlaceholder         = "[REDACTED_JWT]"
	RedactedPathPlaceholder        = "[REDACTED_PATH]"
	RedactedStackTracePlaceholder  = "[STACK_TRACE_REDACTED]"
	RedactedSQLPlaceholder         = "[REDACTED_SQL]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the unredacted input.
var rules = []rule{
	{
		regexp.MustCompile(`(?i)(postgres(?:ql)?|mysql|db|database|connection)://[^@\s]+@`),
		RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`),
		RedactedCredentialPlaceholder,
	},
	{
		// Synapse and MAS token formats.
		regexp.MustCompile(`\b(?:syt|syr|mct|mat)_[A-Za-z0-9_\-]{10,}`),
		RedactedMatrixTokenPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/=]{8,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		RedactedJWTPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|token|secret)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		RedactedStackTracePlaceholder,
	},
	{
		// Only paths that start a token; URL paths stay readable.
		regexp.MustCompile(`(^|[\s'"=])((?:/[\w.-]+){2,})`),
		"${1}" + RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(
			`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|GRANT)[\s\w,*()]+(?:FROM|INTO|SET|TABLE|DATABASE|SCHEMA|VIEW)(?:[\s\w,*()='"]+)?`,
		),
		RedactedSQLPlaceholder,
	},
}

// String redacts sensitive information from input.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from err.Error(). A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
