package lexical

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on non-alphanumeric runes.
// Both the in-memory index and query parsing share it so a term always
// tokenizes the same way on both sides of a search.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
