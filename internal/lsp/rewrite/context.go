// Package rewrite implements the schema-driven JSON-RPC URI rewriter:
// translating the synthetic `source://` scheme to an absolute `file://` URI
// under the working directory, and back.
package rewrite

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	lspuri "go.lsp.dev/uri"
)

// Scheme is the synthetic relative-URI scheme this proxy understands.
const Scheme = "source://"

// Context is the absolute canonical working directory URIs are resolved
// against. It is immutable; rewriting is a pure function of a URI string and
// the Context.
type Context struct {
	cwd string // canonical absolute path, no trailing separator
}

// NewContext canonicalizes dir (resolving symlinks, relative segments) and
// returns a Context rooted there.
func NewContext(dir string) (*Context, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("rewrite: resolving cwd: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Non-existent directories are legal (sessions may be proxied before
		// the workspace is materialized); fall back to the absolute path.
		canon = abs
	}
	canon = filepath.ToSlash(canon)
	canon = strings.TrimSuffix(canon, "/")

	return &Context{cwd: canon}, nil
}

// Dir returns the canonical working directory as a plain filesystem path.
func (c *Context) Dir() string {
	return c.cwd
}

// ToFile converts a `source://`-scheme URI to an absolute `file://` URI
// under the working directory. Returns ok=false if raw does not use the
// source scheme.
func (c *Context) ToFile(raw string) (rewritten string, ok bool) {
	rel, found := strings.CutPrefix(raw, Scheme)
	if !found {
		return "", false
	}
	decoded, err := decodePercent(rel)
	if err != nil {
		decoded = rel
	}
	full := path.Join(c.cwd, decoded)
	return string(lspuri.File(full)), true
}

// ToSource converts a `file://` URI whose path lies under the working
// directory back into a `source://` URI. Returns ok=false if raw is not a
// file:// URI, or its path falls outside the working directory.
func (c *Context) ToSource(raw string) (rewritten string, ok bool) {
	if !strings.HasPrefix(raw, "file://") {
		return "", false
	}
	filePath := lspuri.URI(raw).Filename()
	filePath = filepath.ToSlash(filePath)

	rel, isChild := cutDirPrefix(filePath, c.cwd)
	if !isChild {
		return "", false
	}
	return Scheme + rel, true
}

// cutDirPrefix reports whether p lies at or under dir, returning the
// slash-separated path relative to dir (empty string if p == dir).
func cutDirPrefix(p, dir string) (rel string, ok bool) {
	if p == dir {
		return "", true
	}
	prefix := dir + "/"
	if rest, found := strings.CutPrefix(p, prefix); found {
		return rest, true
	}
	return "", false
}

// decodePercent percent-decodes a URI path component. Kept minimal and
// local rather than pulling in net/url: we only ever decode the portion of
// a `source://` URI after the scheme, which is a plain relative path.
func decodePercent(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, lo := s[i+1], s[i+2]
			v, err := hexPair(hi, lo)
			if err != nil {
				return "", err
			}
			b.WriteByte(v)
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), nil
}

func hexPair(hi, lo byte) (byte, error) {
	h, err := hexDigit(hi)
	if err != nil {
		return 0, err
	}
	l, err := hexDigit(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

func hexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("rewrite: invalid percent-escape byte %q", b)
	}
}
