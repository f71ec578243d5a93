package features

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Extractor computes feature vectors for one schema. It holds no mutable
// state and is safe for concurrent use if its Analyzer is.
type Extractor struct {
	schema   *Schema
	analyzer Analyzer
}

// NewExtractor returns an extractor for schema using analyzer. A nil
// analyzer selects the prose-backed default.
func NewExtractor(schema *Schema, analyzer Analyzer) *Extractor {
	if analyzer == nil {
		analyzer = NewProseAnalyzer()
	}
	return &Extractor{schema: schema, analyzer: analyzer}
}

// Schema returns the schema the extractor produces.
func (e *Extractor) Schema() *Schema { return e.schema }

// AnalyzerName returns the name of the analyzer behind the extractor.
func (e *Extractor) AnalyzerName() string { return e.analyzer.Name() }

// Extract returns the feature vector for text. It never fails: the empty
// string produces a vector whose token-based features are all zero.
// Text is NFC-normalized first so composed and decomposed input agree.
func (e *Extractor) Extract(text string) Vector {
	text = norm.NFC.String(text)
	s := newSample(text, e.analyzer.Analyze(text))

	v := make(Vector, len(e.schema.features))
	for i, f := range e.schema.features {
		v[i] = f.fn(s)
	}
	return v
}

// sample caches the per-text counts shared by several features.
type sample struct {
	runes     []rune
	charCount float64

	upper, digits, punct int

	tokens    []string
	lower     []string
	tags      []string
	words     []string
	sentences int
}

func newSample(text string, a Analysis) *sample {
	s := &sample{
		runes:     []rune(text),
		tokens:    a.Tokens,
		sentences: a.Sentences,
	}
	if len(a.Tags) == len(a.Tokens) {
		s.tags = a.Tags
	}

	s.charCount = float64(len(s.runes))
	if s.charCount < 1 {
		s.charCount = 1
	}

	for _, r := range s.runes {
		switch {
		case unicode.IsUpper(r):
			s.upper++
		case unicode.IsDigit(r):
			s.digits++
		case strings.ContainsRune(punctuationMarks, r):
			s.punct++
		}
	}

	s.lower = make([]string, len(s.tokens))
	for i, t := range s.tokens {
		s.lower[i] = strings.ToLower(t)
		if isWord(t) {
			s.words = append(s.words, t)
		}
	}
	return s
}

func (s *sample) lexiconRatio(set map[string]struct{}) float64 {
	if len(s.lower) == 0 {
		return 0
	}
	n := 0
	for _, t := range s.lower {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(s.lower))
}

func (s *sample) tagRatio(set map[string]struct{}) float64 {
	if len(s.tokens) == 0 {
		return 0
	}
	n := 0
	for _, tag := range s.tags {
		if _, ok := set[tag]; ok {
			n++
		}
	}
	return float64(n) / float64(len(s.tokens))
}
