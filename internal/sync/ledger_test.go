package sync

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestErrorLedger_RecordKeepsOrder(t *testing.T) {
	l := NewErrorLedger("run-1")
	l.Record("b", errors.New("first"))
	l.Record("a", errors.New("second"))
	l.Record("b", errors.New("third"))
	l.Record("c", nil)

	assert.Equal(t, 2, l.Len())
	assert.EqualError(t, l.Err("b"), "third")
	assert.Nil(t, l.Err("c"))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Subject)
	assert.Equal(t, "third", entries[0].Error)
	assert.Equal(t, "a", entries[1].Subject)
}

func TestErrorLedger_WriteTo(t *testing.T) {
	l := NewErrorLedger("run-2")
	l.Record("backup/a.txt", &FileOperationError{Op: OpCreate, Path: "backup/a.txt", Err: errors.New("denied")})

	var buf bytes.Buffer
	n, err := l.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	var dump ledgerDump
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &dump))
	assert.Equal(t, "run-2", dump.RunID)
	assert.Equal(t, 1, dump.Count)
	require.Len(t, dump.Errors, 1)
	assert.Equal(t, "backup/a.txt", dump.Errors[0].Subject)
	assert.Contains(t, dump.Errors[0].Error, "denied")
}

func TestErrorLedger_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "errors.log")

	empty := NewErrorLedger("empty")
	require.NoError(t, empty.Save(path))
	assert.NoFileExists(t, path)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("line=1 existing log\n"), 0o644))

	l := NewErrorLedger("run-3")
	l.Record("x", errors.New("broken"))
	require.NoError(t, l.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line=1 existing log\n---\n")
	assert.Contains(t, string(data), "run_id: run-3")
	assert.Contains(t, string(data), "subject: x")
}
