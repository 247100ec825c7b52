package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "current-operation.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_EmptyByDefault(t *testing.T) {
	j := openTestJournal(t)
	_, ok, err := j.Read()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_WriteReadClear(t *testing.T) {
	j := openTestJournal(t)

	entry := journal.Entry{ID: "42", Kind: journal.KindSoftwareUpdate}
	require.NoError(t, j.Write(entry))

	got, ok, err := j.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	require.NoError(t, j.Clear())

	_, ok, err = j.Read()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-operation.db")

	j1, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Write(journal.Entry{ID: "7", Kind: journal.KindRestart}))
	require.NoError(t, j1.Close())

	j2, err := journal.Open(path)
	require.NoError(t, err)
	defer j2.Close()

	got, ok, err := j2.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, journal.Entry{ID: "7", Kind: journal.KindRestart}, got)
}
