package arch

import (
	"fmt"
	"slices"
)

const (
	vocabDigits      = "0123456789"
	vocabASCII       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	vocabPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	vocabCurrency    = "£€¥¢฿"
	vocabLatin       = vocabDigits + vocabASCII + vocabPunctuation
	vocabEnglish     = vocabLatin + "°" + vocabCurrency
	vocabFrench      = vocabEnglish + "àâéèêëîïôùûüçÀÂÉÈÊËÎÏÔÙÛÜÇ"
)

var vocabs = map[string]string{
	"digits":        vocabDigits,
	"ascii_letters": vocabASCII,
	"punctuation":   vocabPunctuation,
	"currency":      vocabCurrency,
	"latin":         vocabLatin,
	"english":       vocabEnglish,
	"french":        vocabFrench,
}

// Vocab returns the character set registered under name as runes. The
// index of a rune is its class id in recognition model outputs.
func Vocab(name string) ([]rune, error) {
	v, ok := vocabs[name]
	if !ok {
		return nil, fmt.Errorf("unknown vocab %q", name)
	}
	return []rune(v), nil
}

// VocabNames lists the registered vocabularies.
func VocabNames() []string {
	out := make([]string, 0, len(vocabs))
	for k := range vocabs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
