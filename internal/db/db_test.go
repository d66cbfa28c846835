package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, v TEXT);`

func TestOpen_Memory(t *testing.T) {
	database, err := Open(MemoryPath, WithSchema(testSchema))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("INSERT INTO t (v) VALUES (?)", "hello")
	require.NoError(t, err)

	// the single connection keeps the in-memory table visible
	var v string
	require.NoError(t, database.Get(&v, "SELECT v FROM t"))
	assert.Equal(t, "hello", v)
	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestOpen_File_CreatesParentAndKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "hashes.db")

	database, err := Open(dbPath, WithSchema(testSchema))
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
	_, err = database.Exec("INSERT INTO t (v) VALUES (?)", "kept")
	require.NoError(t, err)
	require.NoError(t, database.Close())

	// reopening applies the schema again without touching existing rows
	database, err = Open(dbPath, WithSchema(testSchema))
	require.NoError(t, err)
	defer database.Close()

	var v string
	require.NoError(t, database.Get(&v, "SELECT v FROM t"))
	assert.Equal(t, "kept", v)
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := Open(MemoryPath, WithSchema("CREATE TABLE ("))
	assert.ErrorContains(t, err, "apply schema")
}
