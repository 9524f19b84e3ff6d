// Text normalization helpers shared by the channel plugins: tokenizing free-form chat text, folding case and diacritics, and comparing word sets.
package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	nonSlugChars  = regexp.MustCompile(`[^\pL\pN]+`)
)

// words which carry no signal when comparing a chat message against an FAQ question
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "my": true, "me": true, "to": true,
	"is": true, "it": true, "of": true, "in": true, "on": true, "and": true, "or": true,
	"do": true, "does": true, "how": true, "what": true, "can": true, "you": true,
	"for": true, "be": true, "are": true, "this": true, "that": true, "with": true,
}

// Removes diacritics and applies NFC normalization.
func Fold(text string) string {
	// transformers carry state, so a fresh chain is needed per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(normFunc, text)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return text
	}
	return out
}

// Splits free-form text in to lower-cased, folded tokens. Punctuation separates tokens.
func TokenizeText(text string) []string {
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	return strings.Fields(Fold(split))
}

// Takes an arbitrary string and returns a version with all non-letter, non-digit characters removed, folded and lower-case. "Diamond Sword" and "diamond_sword" slugify to the same value.
func Slugify(orig string) string {
	return strings.ToLower(nonSlugChars.ReplaceAllString(Fold(orig), ""))
}

// Token set of the text with stop words removed.
func WordSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range TokenizeText(text) {
		if stopWords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// Number of words present in both sets.
func Overlap(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// Case- and diacritic-insensitive substring check.
func ContainsFold(text, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(Fold(text)), strings.ToLower(Fold(sub)))
}
