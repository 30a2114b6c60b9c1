package roamapi

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns that indicate an attempt to break out of a quoted Datalog literal.
// Clause keywords and logic-variable syntax never appear in legitimate page
// titles or UIDs.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[:find`),
	regexp.MustCompile(`(?i)\[:where`),
	regexp.MustCompile(`(?i)\[\?[a-z]`),
}

// SanitizeQueryInput validates and escapes an untrusted string before it is
// interpolated into Datalog query text. Embedded double quotes are escaped by
// doubling them, the EDN convention. Values passed through the structured
// args channel must not be sanitized; that channel is trusted.
func SanitizeQueryInput(value string) (string, error) {
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%w: input contains null bytes", ErrInvalidQuery)
	}
	for _, re := range suspiciousPatterns {
		if re.MatchString(value) {
			return "", fmt.Errorf("%w: input contains suspicious pattern %s", ErrInvalidQuery, re.String())
		}
	}
	return strings.ReplaceAll(value, `"`, `""`), nil
}
