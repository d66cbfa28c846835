package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello, World!"), 0o644))

	hash, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "65a8e27d8879283831b664bd8b7f0ad4", hash)
	assert.Equal(t, hash, BytesHash([]byte("Hello, World!")))

	fromReader, err := ReaderHash(strings.NewReader("Hello, World!"))
	require.NoError(t, err)
	assert.Equal(t, hash, fromReader)
}

func TestFileHash_Missing(t *testing.T) {
	_, err := FileHash(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
