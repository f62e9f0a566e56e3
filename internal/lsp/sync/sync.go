// Package sync implements the file-sync side-effect handler: materializing
// text documents to disk when the client signals a save (or create/rename/
// delete), so the Language Server sees a coherent on-disk workspace.
package sync

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	lspuri "go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/mcncl/lsp-ws-proxy/internal/lsp/rewrite"
)

// Context carries what Apply needs to resolve and touch paths: the
// canonical working directory, whether source:// URIs need ToFile
// resolution first, and a logger for the non-fatal failures this
// component is specified to swallow.
type Context struct {
	Dir        string
	Remap      bool
	RewriteCtx *rewrite.Context
	Log        *zap.Logger
}

// Apply performs the filesystem side effect (if any) that method/body
// call for, before the caller forwards body to the child. Every failure
// here is logged and swallowed: the message is still forwarded even when
// its side effect could not be applied.
func Apply(ctx Context, method string, body []byte) {
	switch method {
	case "textDocument/didOpen":
		uri := gjson.GetBytes(body, "params.textDocument.uri").String()
		text := gjson.GetBytes(body, "params.textDocument.text").String()
		writeFile(ctx, uri, text)

	case "textDocument/didSave":
		text := gjson.GetBytes(body, "params.text")
		if !text.Exists() {
			return
		}
		uri := gjson.GetBytes(body, "params.textDocument.uri").String()
		writeFile(ctx, uri, text.String())

	case "workspace/didCreateFiles":
		for _, f := range gjson.GetBytes(body, "params.files").Array() {
			writeFile(ctx, f.Get("uri").String(), "")
		}

	case "workspace/didRenameFiles":
		for _, f := range gjson.GetBytes(body, "params.files").Array() {
			renameFile(ctx, f.Get("oldUri").String(), f.Get("newUri").String())
		}

	case "workspace/didDeleteFiles":
		for _, f := range gjson.GetBytes(body, "params.files").Array() {
			removeFile(ctx, f.Get("uri").String())
		}
	}
}

func writeFile(ctx Context, uri, text string) {
	path, ok := resolve(ctx, uri)
	if !ok {
		ctx.Log.Warn("sync: skipping write outside working directory", zap.String("uri", uri))
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		ctx.Log.Warn("sync: creating parent directories", zap.String("uri", uri), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		ctx.Log.Warn("sync: writing file", zap.String("uri", uri), zap.Error(err))
	}
}

func renameFile(ctx Context, oldURI, newURI string) {
	oldPath, ok := resolve(ctx, oldURI)
	if !ok {
		ctx.Log.Warn("sync: skipping rename, old path outside working directory", zap.String("uri", oldURI))
		return
	}
	newPath, ok := resolve(ctx, newURI)
	if !ok {
		ctx.Log.Warn("sync: skipping rename, new path outside working directory", zap.String("uri", newURI))
		return
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		ctx.Log.Warn("sync: creating destination directories", zap.String("uri", newURI), zap.Error(err))
		return
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		ctx.Log.Warn("sync: renaming file", zap.String("from", oldURI), zap.String("to", newURI), zap.Error(err))
	}
}

func removeFile(ctx Context, uri string) {
	path, ok := resolve(ctx, uri)
	if !ok {
		ctx.Log.Warn("sync: skipping remove outside working directory", zap.String("uri", uri))
		return
	}
	// A directory is only removed if explicitly listed and empty; a
	// non-empty directory or any other os.Remove failure is swallowed
	// Removal failures are non-fatal.
	if err := os.Remove(path); err != nil {
		ctx.Log.Warn("sync: removing file", zap.String("uri", uri), zap.Error(err))
	}
}

// resolve turns a (possibly source://-scheme) URI into an absolute
// filesystem path, applying ToFile resolution first when remap is
// enabled, and reports whether that path is contained within the working
// directory.
func resolve(ctx Context, uri string) (string, bool) {
	if uri == "" {
		return "", false
	}

	fileURI := uri
	if strings.HasPrefix(uri, rewrite.Scheme) {
		if ctx.RewriteCtx == nil {
			return "", false
		}
		f, ok := ctx.RewriteCtx.ToFile(uri)
		if !ok {
			return "", false
		}
		fileURI = f
	}
	if !strings.HasPrefix(fileURI, "file://") {
		return "", false
	}

	path := filepath.Clean(lspuri.URI(fileURI).Filename())
	dir := filepath.Clean(ctx.Dir)

	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(path), true
}
