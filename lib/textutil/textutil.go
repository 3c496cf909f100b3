package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)
var punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// NormalizeName lowercases a name and removes accents, punctuation and
// whitespace, "Côte d'Ivoire" becomes "cotedivoire".
func NormalizeName(name string) string {
	// transformers keep state, so a chain is not shared between calls
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripMarks, name)
	if err == nil {
		name = stripped
	}
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	name = punctuationRegex.ReplaceAllString(name, "")
	return name
}

// MatchName reports whether the normalized name contains any of `matchers`,
// which are expected to be normalized already.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// ReplacePlaceholder substitutes every `(key)` in a template, the way titles
// like "Current IATI Aid Activities in (country)" are filled in.
func ReplacePlaceholder(template, key, value string) string {
	return strings.ReplaceAll(template, "("+key+")", value)
}
