package hasher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		length   int
		expected Digest
	}{
		{name: "empty input", input: []byte{}, length: 10, expected: "e3b0c44298"},
		{name: "nil input", input: nil, length: 10, expected: "e3b0c44298"},
		{name: "hello", input: []byte("hello"), length: 10, expected: "2cf24dba5f"},
		{name: "short length", input: []byte("hello"), length: 4, expected: "2cf2"},
		{name: "zero length uses default", input: []byte("hello"), length: 0, expected: "2cf24dba5f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sum(tt.input, tt.length))
		})
	}
}

func TestSumMaxLength(t *testing.T) {
	d := Sum([]byte("hello"), 1000)
	assert.Len(t, d.String(), MaxLength)
}

func TestHashedName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"main.css", "main.abc.css"},
		{"css/main.css", "css/main.abc.css"},
		{"js/main.min.js", "js/main.min.abc.js"},
		{"LICENSE", "LICENSE.abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HashedName(tt.name, "abc"))
		})
	}
}

func TestHasherFileMemo(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.js")
	require.NoError(t, os.WriteFile(file, []byte("console.log(1)"), 0o644))

	h := New(DefaultLength)
	first, err := h.File(file)
	require.NoError(t, err)
	assert.Equal(t, h.Sum([]byte("console.log(1)")), first)

	second, err := h.File(file)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Change content and bump mtime so the metadata key differs.
	require.NoError(t, os.WriteFile(file, []byte("console.log(22)"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(file, future, future))

	third, err := h.File(file)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, h.Sum([]byte("console.log(22)")), third)
}

func TestHasherFileMissing(t *testing.T) {
	h := New(8)
	_, err := h.File(filepath.Join(t.TempDir(), "missing.css"))
	assert.Error(t, err)
	assert.Equal(t, 8, h.Length())
}

func TestHasherForget(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.css")
	require.NoError(t, os.WriteFile(file, []byte("a{}"), 0o644))

	h := New(DefaultLength)
	_, err := h.File(file)
	require.NoError(t, err)

	h.Forget(file)
	h.mu.RLock()
	_, found := h.memo[file]
	h.mu.RUnlock()
	assert.False(t, found)
}
