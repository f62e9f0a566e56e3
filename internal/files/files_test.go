package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newExecutor(t *testing.T, remap bool) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewExecutor(dir, remap, zap.NewNop()), dir
}

func TestApplyWriteCreatesFileAndParentDirs(t *testing.T) {
	e, dir := newExecutor(t, true)

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpWrite, Path: "a/b/c.go", Contents: "package main"},
	}})

	for _, r := range resp.Results {
		require.True(t, r.OK, r.Error)
	}
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, Created, resp.Changes[0].Type)
	assert.Equal(t, "source://a/b/c.go", resp.Changes[0].URI)

	got, err := os.ReadFile(filepath.Join(dir, "a/b/c.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(got))
}

func TestApplyWriteExistingFileIsChanged(t *testing.T) {
	e, dir := newExecutor(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.go"), []byte("old"), 0o644))

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpWrite, Path: "x.go", Contents: "new"},
	}})

	for _, r := range resp.Results {
		require.True(t, r.OK, r.Error)
	}
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, Changed, resp.Changes[0].Type)
}

func TestApplyRemoveDeletesFileAndEmptyParents(t *testing.T) {
	e, dir := newExecutor(t, true)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a/b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a/b/c.go"), []byte("x"), 0o644))

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpRemove, Path: "a/b/c.go"},
	}})

	for _, r := range resp.Results {
		require.True(t, r.OK, r.Error)
	}
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, Deleted, resp.Changes[0].Type)

	_, err := os.Stat(filepath.Join(dir, "a/b"))
	assert.True(t, os.IsNotExist(err), "empty parent directories should be removed")
	_, err = os.Stat(dir)
	assert.NoError(t, err, "the working directory itself must survive")
}

func TestApplyRemoveNonEmptyParentSurvives(t *testing.T) {
	e, dir := newExecutor(t, true)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a/keep.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a/remove.go"), []byte("x"), 0o644))

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpRemove, Path: "a/remove.go"},
	}})

	for _, r := range resp.Results {
		require.True(t, r.OK, r.Error)
	}
	_, err := os.Stat(filepath.Join(dir, "a"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "a/keep.go"))
	assert.NoError(t, err)
}

func TestApplyRenameMovesFile(t *testing.T) {
	e, dir := newExecutor(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.go"), []byte("x"), 0o644))

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpRename, From: "old.go", To: "sub/new.go"},
	}})

	for _, r := range resp.Results {
		require.True(t, r.OK, r.Error)
	}
	require.Len(t, resp.Changes, 2)
	assert.Equal(t, Deleted, resp.Changes[0].Type)
	assert.Equal(t, Created, resp.Changes[1].Type)

	_, err := os.Stat(filepath.Join(dir, "sub/new.go"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "old.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyRejectsAbsolutePath(t *testing.T) {
	e, _ := newExecutor(t, true)

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpWrite, Path: "/etc/passwd", Contents: "pwned"},
	}})

	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].OK)
	assert.Empty(t, resp.Changes)
}

func TestApplyRejectsPathEscapingWorkingDirectory(t *testing.T) {
	e, _ := newExecutor(t, true)

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpWrite, Path: "../escape.go", Contents: "x"},
	}})

	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].OK)
	assert.Empty(t, resp.Changes)
}

func TestApplyContinuesAfterOneFailure(t *testing.T) {
	e, dir := newExecutor(t, true)

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpRemove, Path: "does-not-exist.go"},
		{Op: OpWrite, Path: "ok.go", Contents: "x"},
	}})

	require.Len(t, resp.Results, 2)
	assert.False(t, resp.Results[0].OK)
	assert.True(t, resp.Results[1].OK)
	require.Len(t, resp.Changes, 1)
	_, err := os.Stat(filepath.Join(dir, "ok.go"))
	assert.NoError(t, err)
}

func TestApplyFileURIModeOmitsSourceScheme(t *testing.T) {
	e, dir := newExecutor(t, false)

	resp := e.Apply(Payload{Operations: []Operation{
		{Op: OpWrite, Path: "x.go", Contents: "x"},
	}})

	require.Len(t, resp.Changes, 1)
	assert.Contains(t, resp.Changes[0].URI, "file://")
	assert.Contains(t, resp.Changes[0].URI, dir)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload([]byte(`{"operations":[{"op":"write","path":"a.go","contents":"x"}]}`))
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)
	assert.Equal(t, OpWrite, p.Operations[0].Op)
}
