// Package corpus reads labelled writing samples from CSV.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Column names required in the CSV header. Other columns are ignored.
const (
	AuthorColumn  = "author"
	ContentColumn = "content"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("corpus: missing column")

// Sample is one text written by one author.
type Sample struct {
	Author  string
	Content string
}

// Corpus groups samples by author, preserving file order within an author.
type Corpus struct {
	texts map[string][]string
	users []string
	order []Sample
}

// New builds a corpus from samples. Samples with an empty author are dropped.
func New(samples []Sample) *Corpus {
	c := &Corpus{texts: make(map[string][]string)}
	for _, s := range samples {
		if s.Author == "" {
			continue
		}
		if _, ok := c.texts[s.Author]; !ok {
			c.users = append(c.users, s.Author)
		}
		c.texts[s.Author] = append(c.texts[s.Author], s.Content)
		c.order = append(c.order, s)
	}
	sort.Strings(c.users)
	return c
}

// Read parses CSV with a header naming at least the author and content
// columns.
func Read(r io.Reader) (*Corpus, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	authorIdx, contentIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case AuthorColumn:
			authorIdx = i
		case ContentColumn:
			contentIdx = i
		}
	}
	if authorIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, AuthorColumn)
	}
	if contentIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ContentColumn)
	}

	var samples []Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if authorIdx >= len(rec) || contentIdx >= len(rec) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: short record", line)
		}
		samples = append(samples, Sample{Author: strings.TrimSpace(rec[authorIdx]), Content: rec[contentIdx]})
	}
	return New(samples), nil
}

// ReadFile reads a CSV corpus from path.
func ReadFile(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Users returns every author, sorted.
func (c *Corpus) Users() []string {
	return append([]string(nil), c.users...)
}

// Texts returns the texts of user in file order.
func (c *Corpus) Texts(user string) []string {
	return append([]string(nil), c.texts[user]...)
}

// Others returns every text not written by user, in file order.
func (c *Corpus) Others(user string) []string {
	var out []string
	for _, s := range c.order {
		if s.Author != user {
			out = append(out, s.Content)
		}
	}
	return out
}

// Len returns the number of samples.
func (c *Corpus) Len() int { return len(c.order) }
