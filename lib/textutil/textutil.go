// Package textutil folds table headers into a comparable form so that
// localized spellings like "Último" and "Ultimo " match the same key.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower cases s, strips combining marks and drops every whitespace rune.
func Fold(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(unicode.IsSpace)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = strings.Join(strings.Fields(s), "")
	}
	return strings.ToLower(folded)
}

// ContainsAny reports whether the folded s contains any of keys. Keys are
// expected to be folded already.
func ContainsAny(s string, keys []string) bool {
	s = Fold(s)
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether the folded s contains every one of keys; an
// empty key list matches nothing.
func ContainsAll(s string, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	s = Fold(s)
	for _, k := range keys {
		if !strings.Contains(s, k) {
			return false
		}
	}
	return true
}
