package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer reduces lowercased text to a canonical matching form (for
// example a lemmatized or accent-folded rendition). Implementations must
// never fail; on trouble they return the input unchanged.
type Normalizer interface {
	Normalize(text string) string
}

// NormalizerFunc adapts a plain function to Normalizer.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(text string) string { return f(text) }

// FoldNormalizer strips diacritics and collapses whitespace so that
// "Mis Créditos" and "mis  creditos" compare equal.
type FoldNormalizer struct{}

func (FoldNormalizer) Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(folded), " ")
}
