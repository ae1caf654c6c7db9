package helpers

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a fresh request/audit identifier.
func GenerateUUID() string {
	return uuid.New().String()
}

// Helper function to properly remove quotes from strings
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

var (
	separatorRe = regexp.MustCompile(`[\s_.]+`)
	invalidRe   = regexp.MustCompile(`[^a-z0-9-]`)
	dashRunRe   = regexp.MustCompile(`-{2,}`)
)

// NormalizeCollectionName turns any schema name form into a safe collection
// name: lowercase, separators collapsed to dashes, everything else stripped.
func NormalizeCollectionName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = separatorRe.ReplaceAllString(s, "-")
	s = invalidRe.ReplaceAllString(s, "")
	s = dashRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
