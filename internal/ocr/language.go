package ocr

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// languageHints are frequent function words and characters that only or
// mostly occur in one language.
var languageHints = []struct {
	tag   language.Tag
	words []string
	runes string
}{
	{language.English, []string{"the", "and", "of", "to", "is", "in", "that", "for", "with"}, ""},
	{language.French, []string{"le", "la", "les", "et", "des", "est", "une", "pour", "dans", "du"}, "èêàùçœÈÀÇ"},
	{language.German, []string{"der", "die", "das", "und", "ist", "nicht", "ein", "mit", "für", "den"}, "äöüßÄÖÜ"},
	{language.Spanish, []string{"el", "los", "las", "y", "es", "una", "por", "con", "del", "que"}, "áíóúñ¿¡ÁÍÓÚÑ"},
}

// detectLanguage guesses the language of s. It returns the und tag and
// zero confidence when nothing points at a language.
func detectLanguage(s string) (language.Tag, float64) {
	scores := make([]float64, len(languageHints))
	var total float64
	for _, word := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) }) {
		for i, h := range languageHints {
			for _, w := range h.words {
				if w == word {
					scores[i]++
					total++
				}
			}
		}
	}
	for _, r := range s {
		for i, h := range languageHints {
			if h.runes != "" && strings.ContainsRune(h.runes, r) {
				scores[i]++
				total++
			}
		}
	}
	if total == 0 {
		return language.Und, 0
	}
	best := 0
	for i, sc := range scores {
		if sc > scores[best] {
			best = i
		}
	}
	return languageHints[best].tag, scores[best] / total
}
