package features

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Analysis is the linguistic view of a text that feature extraction consumes.
// Tags is either empty (tagging unavailable) or parallel to Tokens.
type Analysis struct {
	Tokens    []string
	Tags      []string
	Sentences int
}

// Analyzer tokenizes, tags (Penn Treebank tag set), and sentence-splits text.
// Implementations must be deterministic and safe for concurrent use.
//
// Name identifies the pipeline. Models record it at training time because
// two analyzers produce different values for the same schema.
type Analyzer interface {
	Analyze(text string) Analysis
	Name() string
}

// Names of the built-in analyzers.
const (
	AnalyzerProse      = "prose"
	AnalyzerWhitespace = "whitespace"
)

// ProseAnalyzer is the default Analyzer backed by the prose NLP pipeline.
// The tagging model is built once and only read afterwards, so one
// ProseAnalyzer can serve concurrent callers.
type ProseAnalyzer struct {
	model *prose.Model
}

// NewProseAnalyzer returns the default prose-backed analyzer.
func NewProseAnalyzer() *ProseAnalyzer {
	return &ProseAnalyzer{model: prose.ModelFromData("en")}
}

// Name implements Analyzer.
func (p *ProseAnalyzer) Name() string { return AnalyzerProse }

// Analyze implements Analyzer. If the pipeline rejects the input the
// whitespace analyzer is used instead so extraction never fails.
func (p *ProseAnalyzer) Analyze(text string) Analysis {
	if strings.TrimSpace(text) == "" {
		return Analysis{}
	}

	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.UsingModel(p.model),
	)
	if err != nil {
		return WhitespaceAnalyzer{}.Analyze(text)
	}

	toks := doc.Tokens()
	a := Analysis{
		Tokens: make([]string, 0, len(toks)),
		Tags:   make([]string, 0, len(toks)),
	}
	for _, tok := range toks {
		a.Tokens = append(a.Tokens, tok.Text)
		a.Tags = append(a.Tags, tok.Tag)
	}
	for _, s := range doc.Sentences() {
		if strings.TrimSpace(s.Text) != "" {
			a.Sentences++
		}
	}
	if a.Sentences == 0 && len(a.Tokens) > 0 {
		a.Sentences = 1
	}
	return a
}

// WhitespaceAnalyzer splits on whitespace, peels leading and trailing
// punctuation into their own tokens, and counts sentences by terminal
// punctuation. It does not tag.
type WhitespaceAnalyzer struct{}

// Name implements Analyzer.
func (WhitespaceAnalyzer) Name() string { return AnalyzerWhitespace }

// Analyze implements Analyzer.
func (WhitespaceAnalyzer) Analyze(text string) Analysis {
	var a Analysis
	for _, field := range strings.Fields(text) {
		a.Tokens = append(a.Tokens, splitPunct(field)...)
	}

	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				a.Sentences++
				inSentence = false
			}
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		a.Sentences++
	}
	return a
}

func splitPunct(field string) []string {
	runes := []rune(field)
	start, end := 0, len(runes)
	var lead, trail []string
	for start < end && unicode.IsPunct(runes[start]) {
		lead = append(lead, string(runes[start]))
		start++
	}
	for end > start && unicode.IsPunct(runes[end-1]) {
		trail = append([]string{string(runes[end-1])}, trail...)
		end--
	}
	out := lead
	if start < end {
		out = append(out, string(runes[start:end]))
	}
	return append(out, trail...)
}
