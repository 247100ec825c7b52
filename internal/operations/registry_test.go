package operations_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
)

func writeOpFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRegistry_LoadAndFind(t *testing.T) {
	dir := t.TempDir()
	writeOpFile(t, dir, "c8y_LogfileRequest", "template = \"522\"\ncommand = \"/usr/bin/tedge-log-plugin\"\n")
	writeOpFile(t, dir, "c8y_Command", "template = \"511\"\nunused_field = \"ignored\"\n")

	reg, err := operations.New(dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c8y_LogfileRequest", "c8y_Command"}, reg.Names())

	op, ok := reg.Find("522")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/tedge-log-plugin", op.Command)

	_, ok = reg.Find("999")
	assert.False(t, ok)
}

func TestRegistry_DuplicateTemplateIDRejected(t *testing.T) {
	dir := t.TempDir()
	writeOpFile(t, dir, "op-a", "template = \"600\"\n")
	writeOpFile(t, dir, "op-b", "template = \"600\"\n")

	_, err := operations.New(dir)
	require.Error(t, err)
}

func TestRegistry_MissingDirIsEmpty(t *testing.T) {
	reg, err := operations.New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestRegistry_MalformedFileFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	writeOpFile(t, dir, "broken", "this is not key=value\n")

	_, err := operations.New(dir)
	require.Error(t, err)
}

func TestRegistry_Topics(t *testing.T) {
	dir := t.TempDir()
	writeOpFile(t, dir, "c8y_Command", "template = \"511\"\n")

	reg, err := operations.New(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud/in/511"}, reg.Topics())
}
