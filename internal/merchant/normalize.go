// Package merchant provides merchant-name normalization and fuzzy similarity scoring.
package merchant

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases raw, folds diacritics, drops every character that is not
// a letter, digit or whitespace, and collapses whitespace runs to single spaces.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	folded := foldDiacritics(strings.ToLower(raw))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	return norm.NFC.String(strings.Join(strings.Fields(b.String()), " "))
}

// foldDiacritics strips combining marks, e.g. "café" becomes "cafe".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
