package features

import (
	"strings"
	"unicode"
)

// Flesch Reading Ease coefficients.
const (
	fleschBase            = 206.835
	fleschSentenceWeight  = 1.015
	fleschSyllableWeight  = 84.6
	polysyllabicThreshold = 3
)

// isWord reports whether a token carries at least one letter or digit.
// Pure punctuation tokens are not words for readability purposes.
func isWord(tok string) bool {
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// countSyllables estimates English syllables by counting vowel groups,
// discounting a silent trailing "e". Words of one to three letters count as one.
func countSyllables(word string) int {
	var letters []rune
	for _, r := range strings.ToLower(word) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return 0
	}
	if len(letters) <= 3 {
		return 1
	}

	count := 0
	prevVowel := false
	for _, r := range letters {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}

	n := len(letters)
	if letters[n-1] == 'e' && count > 1 && !(letters[n-2] == 'l' && !isVowel(letters[n-3])) {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

// fleschReadingEase scores the words of a text; 0 when there are no words.
func fleschReadingEase(words []string, sentences int) float64 {
	if len(words) == 0 {
		return 0
	}
	if sentences < 1 {
		sentences = 1
	}
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}
	wps := float64(len(words)) / float64(sentences)
	spw := float64(syllables) / float64(len(words))
	return fleschBase - fleschSentenceWeight*wps - fleschSyllableWeight*spw
}
