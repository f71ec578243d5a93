// Package features turns free text into fixed-length stylometric feature vectors.
//
// A Schema is an ordered, versioned list of named features. The order is part
// of the contract: a model trained against one schema version can only score
// vectors produced by the same version.
package features

import (
	"errors"
	"fmt"
)

// Version identifies a feature schema.
type Version int

// Known schema versions.
const (
	// V1 is the canonical 16-feature schema.
	V1 Version = 1
	// V2 appends past-tense, syllable, polysyllable and formality features to V1.
	V2 Version = 2

	// DefaultVersion is used when configuration does not name a schema.
	DefaultVersion = V1
)

// ErrUnknownSchema is returned when a schema version is not registered.
var ErrUnknownSchema = errors.New("features: unknown schema version")

// Vector is an ordered feature vector.
type Vector []float64

// Feature is one named slot of a schema.
type Feature struct {
	name string
	fn   func(*sample) float64
}

// Name returns the feature name.
func (f Feature) Name() string { return f.name }

// Schema is an ordered list of features.
type Schema struct {
	version  Version
	features []Feature
}

// Version returns the schema version.
func (s *Schema) Version() Version { return s.version }

// Len returns the number of features, i.e. the vector width.
func (s *Schema) Len() int { return len(s.features) }

// Names returns the feature names in vector order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.features))
	for i, f := range s.features {
		names[i] = f.name
	}
	return names
}

// Index returns the vector position of the named feature, or -1.
func (s *Schema) Index(name string) int {
	for i, f := range s.features {
		if f.name == name {
			return i
		}
	}
	return -1
}

var canonical = []Feature{
	{"char_count_norm", func(s *sample) float64 { return float64(len(s.runes)) / 100 }},
	{"char_ngrams_3_ratio", func(s *sample) float64 {
		n := len(s.runes) - 2
		if n < 0 {
			n = 0
		}
		return float64(n) / s.charCount
	}},
	{"stop_word_freq_ratio", func(s *sample) float64 { return s.lexiconRatio(stopWords) }},
	{"word_length_avg_norm", func(s *sample) float64 {
		if len(s.tokens) == 0 {
			return 0
		}
		total := 0
		for _, t := range s.tokens {
			total += len([]rune(t))
		}
		return float64(total) / float64(len(s.tokens)) / 15
	}},
	{"type_token_ratio", func(s *sample) float64 {
		if len(s.tokens) == 0 {
			return 0
		}
		seen := make(map[string]struct{}, len(s.tokens))
		for _, t := range s.tokens {
			seen[t] = struct{}{}
		}
		return float64(len(seen)) / float64(len(s.tokens))
	}},
	{"uppercase_proportion", func(s *sample) float64 { return float64(s.upper) / s.charCount }},
	{"digit_proportion", func(s *sample) float64 { return float64(s.digits) / s.charCount }},
	{"punctuation_proportion", func(s *sample) float64 { return float64(s.punct) / s.charCount }},
	{"adjective_ratio", func(s *sample) float64 { return s.tagRatio(adjectiveTags) }},
	{"noun_ratio", func(s *sample) float64 { return s.tagRatio(nounTags) }},
	{"verb_ratio", func(s *sample) float64 { return s.tagRatio(verbTags) }},
	{"adverb_ratio", func(s *sample) float64 { return s.tagRatio(adverbTags) }},
	{"avg_sentence_length", func(s *sample) float64 {
		if s.sentences == 0 {
			return 0
		}
		return float64(len(s.tokens)) / float64(s.sentences)
	}},
	{"pronoun_usage_proportion", func(s *sample) float64 { return s.lexiconRatio(pronouns) }},
	{"function_word_ratio", func(s *sample) float64 { return s.lexiconRatio(functionWords) }},
	{"readability_score", func(s *sample) float64 { return fleschReadingEase(s.words, s.sentences) / 100 }},
}

var extended = []Feature{
	{"past_tense_ratio", func(s *sample) float64 { return s.tagRatio(pastTenseTags) }},
	{"syllable_avg", func(s *sample) float64 {
		if len(s.tokens) == 0 {
			return 0
		}
		total := 0
		for _, w := range s.words {
			total += countSyllables(w)
		}
		return float64(total) / float64(len(s.tokens))
	}},
	{"polysyllabic_word_ratio", func(s *sample) float64 {
		if len(s.tokens) == 0 {
			return 0
		}
		n := 0
		for _, w := range s.words {
			if countSyllables(w) >= polysyllabicThreshold {
				n++
			}
		}
		return float64(n) / float64(len(s.tokens))
	}},
	{"formality", func(s *sample) float64 {
		num := s.tagRatio(nounTags) + s.tagRatio(adjectiveTags)
		den := s.lexiconRatio(pronouns) + s.tagRatio(verbTags) + 0.01
		return num / den
	}},
}

var schemas = map[Version]*Schema{
	V1: {version: V1, features: canonical},
	V2: {version: V2, features: append(append([]Feature{}, canonical...), extended...)},
}

// Lookup returns the registered schema for v.
func Lookup(v Version) (*Schema, error) {
	s, ok := schemas[v]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSchema, v)
	}
	return s, nil
}

// MustLookup is Lookup for known-good versions; it panics on unknown ones.
func MustLookup(v Version) *Schema {
	s, err := Lookup(v)
	if err != nil {
		panic(err)
	}
	return s
}
