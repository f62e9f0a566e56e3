package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcncl/lsp-ws-proxy/internal/lsp/rewrite"
)

func testContext(t *testing.T, remap bool) Context {
	t.Helper()
	dir := t.TempDir()
	var rc *rewrite.Context
	if remap {
		var err error
		rc, err = rewrite.NewContext(dir)
		require.NoError(t, err)
	}
	return Context{Dir: filepath.ToSlash(dir), Remap: remap, RewriteCtx: rc, Log: zap.NewNop()}
}

func TestApplyDidOpenWritesFile(t *testing.T) {
	ctx := testContext(t, true)
	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"source://a.go","text":"package main"}}}`)

	Apply(ctx, "textDocument/didOpen", body)

	got, err := os.ReadFile(filepath.Join(ctx.Dir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(got))
}

func TestApplyDidSaveWithTextOverwrites(t *testing.T) {
	ctx := testContext(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Dir, "a.go"), []byte("old"), 0o644))

	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didSave","params":{"textDocument":{"uri":"source://a.go"},"text":"new"}}`)
	Apply(ctx, "textDocument/didSave", body)

	got, err := os.ReadFile(filepath.Join(ctx.Dir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestApplyDidSaveWithoutTextIsNoop(t *testing.T) {
	ctx := testContext(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Dir, "a.go"), []byte("old"), 0o644))

	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didSave","params":{"textDocument":{"uri":"source://a.go"}}}`)
	Apply(ctx, "textDocument/didSave", body)

	got, err := os.ReadFile(filepath.Join(ctx.Dir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestApplyDidCloseHasNoEffect(t *testing.T) {
	ctx := testContext(t, true)
	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didClose","params":{"textDocument":{"uri":"source://a.go"}}}`)

	Apply(ctx, "textDocument/didClose", body)

	_, err := os.Stat(filepath.Join(ctx.Dir, "a.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyDidCreateFiles(t *testing.T) {
	ctx := testContext(t, true)
	body := []byte(`{"jsonrpc":"2.0","method":"workspace/didCreateFiles","params":{"files":[{"uri":"source://new/a.go"}]}}`)

	Apply(ctx, "workspace/didCreateFiles", body)

	_, err := os.Stat(filepath.Join(ctx.Dir, "new/a.go"))
	assert.NoError(t, err)
}

func TestApplyDidRenameFiles(t *testing.T) {
	ctx := testContext(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Dir, "old.go"), []byte("x"), 0o644))

	body := []byte(`{"jsonrpc":"2.0","method":"workspace/didRenameFiles","params":{"files":[{"oldUri":"source://old.go","newUri":"source://new.go"}]}}`)
	Apply(ctx, "workspace/didRenameFiles", body)

	_, err := os.Stat(filepath.Join(ctx.Dir, "new.go"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ctx.Dir, "old.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyDidDeleteFiles(t *testing.T) {
	ctx := testContext(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Dir, "a.go"), []byte("x"), 0o644))

	body := []byte(`{"jsonrpc":"2.0","method":"workspace/didDeleteFiles","params":{"files":[{"uri":"source://a.go"}]}}`)
	Apply(ctx, "workspace/didDeleteFiles", body)

	_, err := os.Stat(filepath.Join(ctx.Dir, "a.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveRejectsPathOutsideWorkingDirectory(t *testing.T) {
	ctx := testContext(t, false)

	_, ok := resolve(ctx, "file:///etc/passwd")
	assert.False(t, ok)
}

func TestResolveRejectsSourceSchemeWhenRemapDisabled(t *testing.T) {
	ctx := testContext(t, false)

	_, ok := resolve(ctx, "source://a.go")
	assert.False(t, ok)
}
