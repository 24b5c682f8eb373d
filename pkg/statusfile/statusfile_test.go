package statusfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	writer := NewWriter(t.TempDir())

	want := Status{State: StateOK, Time: 1700000000}
	require.NoError(t, writer.Write("run", want))

	got, err := writer.Read("run")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteWithMessage(t *testing.T) {
	writer := NewWriter(t.TempDir())

	want := Status{State: StateError, Time: 42, Message: "repository unreachable"}
	require.NoError(t, writer.Write("repo-local", want))

	got, err := writer.Read("repo-local")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "status", "nested")
	writer := NewWriter(dir)

	require.NoError(t, writer.Write("run", Status{State: StateOK, Time: 1}))

	_, err := os.Stat(filepath.Join(dir, "run.status.json"))
	assert.NoError(t, err)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	require.NoError(t, writer.Write("run", Status{State: StateOK, Time: 1}))
	require.NoError(t, writer.Write("run", Status{State: StateError, Time: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.status.json", entries[0].Name())
}

func TestDisabledWriterIsNoop(t *testing.T) {
	writer := NewWriter("")
	assert.False(t, writer.Enabled())
	assert.NoError(t, writer.Write("run", Status{State: StateOK}))
}
