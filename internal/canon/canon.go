// Package canon derives the canonical company keys used for suppression and
// deduplication matching, and the guessed domains used by presence checks.
package canon

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are stripped from the end of a name, repeatedly, after
// punctuation inside abbreviations ("L.L.C.") has been collapsed.
var legalSuffixes = map[string]bool{
	"ltd":          true,
	"limited":      true,
	"llc":          true,
	"inc":          true,
	"incorporated": true,
	"corp":         true,
	"corporation":  true,
	"plc":          true,
	"gmbh":         true,
	"co":           true,
	"company":      true,
	"llp":          true,
	"lp":           true,
	"sa":           true,
	"ag":           true,
	"bv":           true,
	"pty":          true,
}

// Words lowercases name, strips diacritics and legal suffixes, and returns
// the remaining alphanumeric words in order.
func Words(name string) []string {
	name = foldDiacritics(strings.ToLower(strings.TrimSpace(name)))
	if name == "" {
		return nil
	}

	// "l.l.c." and "o'brien" must collapse into single words before splitting.
	name = strings.NewReplacer(".", "", "'", "", "’", "").Replace(name)
	name = strings.ReplaceAll(name, "&", " and ")

	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	end := len(words)
	for end > 1 && legalSuffixes[words[end-1]] {
		end--
	}
	return words[:end]
}

// Key returns the canonical key for name: lowercased, diacritics removed,
// trailing legal suffixes stripped and every non-alphanumeric removed.
// "Acme Widgets Ltd." and "ACME WIDGETS LIMITED" share the key "acmewidgets".
func Key(name string) string {
	return strings.Join(Words(name), "")
}

// DomainCandidates guesses up to two .com domains for name: the first word
// and the full concatenated name.
func DomainCandidates(name string) []string {
	words := Words(name)
	if len(words) == 0 {
		return nil
	}

	out := make([]string, 0, 2)
	seen := make(map[string]bool, 2)
	for _, label := range []string{words[0], strings.Join(words, "")} {
		d := label + ".com"
		if label == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
