package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id,author,content
1,bob,"Hello, world."
2,alice,First note.
3,bob,Second from bob
4,alice,"Quoted ""text"" here"
5,,orphan
`

func TestRead(t *testing.T) {
	c, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, c.Users())
	assert.Equal(t, []string{"First note.", `Quoted "text" here`}, c.Texts("alice"))
	assert.Equal(t, []string{"Hello, world.", "Second from bob"}, c.Texts("bob"))
	assert.Equal(t, []string{"Hello, world.", "Second from bob"}, c.Others("alice"))
	assert.Equal(t, 4, c.Len())
	assert.Empty(t, c.Texts("carol"))
}

func TestReadHeaderVariants(t *testing.T) {
	c, err := Read(strings.NewReader("\ufeffContent, Author\nhi,ann\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, c.Texts("ann"))
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no author", "content\nhi\n"},
		{"no content", "author\nann\n"},
		{"short record", "author,content\nann\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}

	_, err := Read(strings.NewReader("content\nhi\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0600))

	c, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Users(), 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := New([]Sample{{"a", "x"}, {"b", "y"}})
	texts := c.Texts("a")
	texts[0] = "changed"
	users := c.Users()
	users[0] = "z"
	assert.Equal(t, []string{"x"}, c.Texts("a"))
	assert.Equal(t, []string{"a", "b"}, c.Users())
}
