package model

import (
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CleanText unescapes HTML entities, normalizes to NFC and trims
// whitespace. StackExchange returns display names and locations HTML-encoded.
func CleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(html.UnescapeString(s)))
}

// CleanOptional applies CleanText to an optional value. Empty results
// become nil so they render as empty cells rather than whitespace.
func CleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	c := CleanText(*s)
	if c == "" {
		return nil
	}
	return &c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
