// Package files implements the administrative POST /files endpoint:
// performing write, remove, and rename operations against the proxy's
// working directory on behalf of an out-of-band orchestrator, without
// routing through a WebSocket session.
package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNotRelative is returned when an operation's path escapes the working
// directory, either by being absolute or by containing a ".." segment that
// climbs above it.
var ErrNotRelative = errors.New("files: path must be relative and contained within the working directory")

// Op names the kind of filesystem mutation an Operation performs.
type Op string

const (
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Operation is one entry in a POST /files request body.
//
//	{"op": "write", "path": "foo.go", "contents": "package main"}
//	{"op": "remove", "path": "bar.go"}
//	{"op": "rename", "from": "foo.go", "to": "bar.go"}
type Operation struct {
	Op       Op     `json:"op"`
	Path     string `json:"path,omitempty"`
	Contents string `json:"contents,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// Payload is the POST /files request body.
type Payload struct {
	Operations []Operation `json:"operations"`
}

// ChangeType mirrors LSP's FileChangeType enum, used to describe the
// filesystem events a batch of operations produced.
type ChangeType int

const (
	Created ChangeType = 1
	Changed ChangeType = 2
	Deleted ChangeType = 3
)

// FileEvent is one entry of a Response's "changes" array, shaped like an
// LSP FileEvent so the orchestrator can feed it straight into a
// workspace/didChangeWatchedFiles notification if it wants to.
type FileEvent struct {
	URI  string     `json:"uri"`
	Type ChangeType `json:"type"`
}

// OperationResult reports the outcome of one operation, at the same index
// as its Operation in the request's "operations" array.
type OperationResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Response is the POST /files response body: Results is parallel to the
// request's operations array; Changes collects the
// FileEvents every successful operation produced, so an orchestrator can
// feed them straight into a workspace/didChangeWatchedFiles notification.
type Response struct {
	Results []OperationResult `json:"results"`
	Changes []FileEvent       `json:"changes"`
}

// Executor performs Operations against a fixed working directory.
type Executor struct {
	cwd   string
	remap bool
	log   *zap.Logger
}

// NewExecutor returns an Executor rooted at cwd. remap controls whether
// FileEvent URIs are rendered as `source://`-scheme (true) or absolute
// `file://` (false), mirroring the session-level remap flag so an
// orchestrator sees the same URI shape the WebSocket clients do.
func NewExecutor(cwd string, remap bool, log *zap.Logger) *Executor {
	return &Executor{cwd: cwd, remap: remap, log: log}
}

// Apply performs each operation in order, collecting the FileEvents each
// success produced and a failed OperationResult per failure, and returns
// the assembled Response. Operations are never retried or rolled back: the
// batch is a sequence of independent attempts.
func (e *Executor) Apply(payload Payload) Response {
	resp := Response{Results: make([]OperationResult, 0, len(payload.Operations))}
	for _, op := range payload.Operations {
		events, err := e.perform(op)
		if err != nil {
			e.log.Warn("file operation failed", zap.String("op", string(op.Op)), zap.Error(err))
			resp.Results = append(resp.Results, OperationResult{OK: false, Error: err.Error()})
			continue
		}
		resp.Results = append(resp.Results, OperationResult{OK: true})
		resp.Changes = append(resp.Changes, events...)
	}
	return resp
}

func (e *Executor) perform(op Operation) ([]FileEvent, error) {
	switch op.Op {
	case OpWrite:
		return e.write(op.Path, op.Contents)
	case OpRemove:
		return e.remove(op.Path)
	case OpRename:
		return e.rename(op.From, op.To)
	default:
		return nil, fmt.Errorf("files: unknown operation %q", op.Op)
	}
}

func (e *Executor) write(relPath, contents string) ([]FileEvent, error) {
	abs, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	if err := e.createParentDirs(relPath); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.WriteFile(abs, []byte(contents), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", relPath, err)
	}

	changeType := Changed
	if created {
		changeType = Created
	}
	return []FileEvent{{URI: e.pathURI(relPath, abs), Type: changeType}}, nil
}

func (e *Executor) remove(relPath string) ([]FileEvent, error) {
	abs, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("removing %s: %w", relPath, err)
	}
	e.removeEmptyParents(relPath)

	return []FileEvent{{URI: e.pathURI(relPath, abs), Type: Deleted}}, nil
}

func (e *Executor) rename(fromRel, toRel string) ([]FileEvent, error) {
	src, err := e.resolve(fromRel)
	if err != nil {
		return nil, err
	}
	dst, err := e.resolve(toRel)
	if err != nil {
		return nil, err
	}

	if err := e.createParentDirs(toRel); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(dst)
	created := os.IsNotExist(statErr)

	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("renaming %s to %s: %w", fromRel, toRel, err)
	}
	e.removeEmptyParents(fromRel)

	changeType := Changed
	if created {
		changeType = Created
	}
	return []FileEvent{
		{URI: e.pathURI(fromRel, src), Type: Deleted},
		{URI: e.pathURI(toRel, dst), Type: changeType},
	}, nil
}

// resolve joins relPath onto the working directory, rejecting anything
// absolute or that climbs outside of it (the containment invariant).
func (e *Executor) resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", ErrNotRelative
	}
	abs := filepath.Join(e.cwd, relPath)
	rel, err := filepath.Rel(e.cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrNotRelative
	}
	return abs, nil
}

func (e *Executor) createParentDirs(relPath string) error {
	parent := filepath.Dir(relPath)
	if parent == "." || parent == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(e.cwd, parent), 0o755); err != nil {
		return fmt.Errorf("creating directories for %s: %w", relPath, err)
	}
	return nil
}

// removeEmptyParents walks relPath's ancestry upward, removing each
// directory that os.Remove succeeds on (i.e. is empty), stopping at the
// first non-empty or missing one. Best-effort: failures are not reported,
// since an orchestrator only cares whether its requested operation
// succeeded.
func (e *Executor) removeEmptyParents(relPath string) {
	dir := filepath.Dir(relPath)
	for dir != "." && dir != "" && dir != string(filepath.Separator) {
		if err := os.Remove(filepath.Join(e.cwd, dir)); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// pathURI renders relPath/abs as either a source:// URI (remap mode) or an
// absolute file:// URI, appending a trailing slash for directories so a
// consumer can tell entries apart without a stat of its own.
func (e *Executor) pathURI(relPath, abs string) string {
	isDir := false
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}

	slashRel := filepath.ToSlash(relPath)
	if e.remap {
		if isDir && !strings.HasSuffix(slashRel, "/") {
			slashRel += "/"
		}
		return "source://" + slashRel
	}

	slashAbs := filepath.ToSlash(abs)
	if isDir && !strings.HasSuffix(slashAbs, "/") {
		slashAbs += "/"
	}
	return "file://" + slashAbs
}

// DecodePayload parses a POST /files request body.
func DecodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("files: decoding request body: %w", err)
	}
	return p, nil
}
