// Package remediation maps security findings to ready-to-apply configuration snippets.
package remediation

import (
	"strings"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// FallbackSnippet is returned when no snippet matches a finding.
const FallbackSnippet = "# No automatic fix available\n# Please see recommendation above"

// Table maps a header name to its nginx remediation directive.
type Table map[string]string

// DefaultTable returns a fresh copy of the built-in header snippets.
func DefaultTable() Table {
	return Table{
		"Content-Security-Policy":   `add_header Content-Security-Policy "default-src 'self'";`,
		"X-Frame-Options":           `add_header X-Frame-Options "DENY";`,
		"Strict-Transport-Security": `add_header Strict-Transport-Security "max-age=31536000; includeSubDomains; preload";`,
		"X-Content-Type-Options":    `add_header X-Content-Type-Options "nosniff";`,
		"Referrer-Policy":           `add_header Referrer-Policy "strict-origin-when-cross-origin";`,
	}
}

// HeaderSnippetResolver looks findings up by the second word of their message,
// e.g. "Missing X-Frame-Options header" -> "X-Frame-Options".
type HeaderSnippetResolver struct {
	table Table
}

// NewHeaderSnippetResolver copies table so later changes by the caller have no effect.
// A nil table yields a resolver that always falls back.
func NewHeaderSnippetResolver(table Table) *HeaderSnippetResolver {
	t := make(Table, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &HeaderSnippetResolver{table: t}
}

// Resolve returns the snippet for the anomaly, or FallbackSnippet.
func (r *HeaderSnippetResolver) Resolve(anomaly domain.Anomaly) string {
	key, ok := HeaderKey(anomaly.Message)
	if !ok {
		return FallbackSnippet
	}
	if snippet, found := r.table[key]; found {
		return snippet
	}
	return FallbackSnippet
}

// HeaderKey extracts the second whitespace-delimited token of a message.
// The lookup is positional on purpose; messages are produced by the scanner
// in the form "<Verb> <Header> header".
func HeaderKey(message string) (string, bool) {
	fields := strings.Fields(message)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}
