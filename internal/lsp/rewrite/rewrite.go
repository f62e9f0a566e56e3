package rewrite

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Direction selects which way a message is flowing through the session, and
// therefore which URI scheme a field's value is expected to start in.
type Direction int

const (
	// Incoming messages travel client -> server; source:// becomes file://.
	Incoming Direction = iota
	// Outgoing messages travel server -> client; file:// becomes source://.
	Outgoing
)

// convert picks the scheme conversion for this direction.
func (c *Context) convert(dir Direction, raw string) (string, bool) {
	if dir == Incoming {
		return c.ToFile(raw)
	}
	return c.ToSource(raw)
}

// methodHandler rewrites the URI-bearing fields of one JSON-RPC message body
// in place, returning the possibly-modified bytes. body is the full message
// object ({"jsonrpc":..., "method":..., "params" or "result": ...}).
type methodHandler func(body []byte, ctx *Context, dir Direction) ([]byte, error)

// incomingMethods and outgoingMethods are keyed by the JSON-RPC "method"
// field. A message whose method has no entry is passed through unchanged:
// the rewriter fails closed to a no-op rather than
// guess at unknown shapes.
var incomingMethods = map[string]methodHandler{
	"initialize":                         atPath("params.rootUri", "params.workspaceFolders.#.uri"),
	"textDocument/didOpen":                atPath("params.textDocument.uri"),
	"textDocument/didChange":              atPath("params.textDocument.uri"),
	"textDocument/didSave":                atPath("params.textDocument.uri"),
	"textDocument/didClose":               atPath("params.textDocument.uri"),
	"textDocument/definition":             atPath("params.textDocument.uri"),
	"textDocument/declaration":            atPath("params.textDocument.uri"),
	"textDocument/typeDefinition":         atPath("params.textDocument.uri"),
	"textDocument/implementation":         atPath("params.textDocument.uri"),
	"textDocument/references":             atPath("params.textDocument.uri"),
	"textDocument/hover":                  atPath("params.textDocument.uri"),
	"textDocument/completion":             atPath("params.textDocument.uri"),
	"textDocument/documentSymbol":         atPath("params.textDocument.uri"),
	"textDocument/documentLink":           atPath("params.textDocument.uri"),
	"textDocument/codeAction":             atPath("params.textDocument.uri"),
	"textDocument/formatting":             atPath("params.textDocument.uri"),
	"textDocument/rangeFormatting":        atPath("params.textDocument.uri"),
	"textDocument/rename":                 atPath("params.textDocument.uri"),
	"textDocument/documentLink/resolve":   atPath("params.target"),
	"workspace/didChangeWatchedFiles":     atPath("params.changes.#.uri"),
	"workspace/didCreateFiles":            atPath("params.files.#.uri"),
	"workspace/didRenameFiles":            atPath("params.files.#.oldUri", "params.files.#.newUri"),
	"workspace/didDeleteFiles":            atPath("params.files.#.uri"),
	"workspace/symbol":                    nil,
	"workspace/workspaceFolders":          nil, // server-initiated; the client's response goes through RewriteResponse
	"workspace/executeCommand":            nil,
}

var outgoingMethods = map[string]methodHandler{
	"textDocument/publishDiagnostics": diagnosticsHandler,
	"window/logMessage":               nil,
	"window/showMessage":              nil,
	"client/registerCapability":       nil,
	"workspace/applyEdit":             applyEditHandler,
	"workspace/configuration":         nil,
}

// Rewrite rewrites the URI-bearing fields of a request or notification body
// according to method, the value of its "method" field. Plain responses
// (id + result, no method) are not handled here; they go through
// RewriteResponse with the method of the request they answer, which the
// session supervisor's pending-request tracking supplies.
func Rewrite(body []byte, ctx *Context, dir Direction, method string) ([]byte, error) {
	table := incomingMethods
	if dir == Outgoing {
		table = outgoingMethods
	}
	handler, known := table[method]
	if !known || handler == nil {
		return body, nil
	}
	return handler(body, ctx, dir)
}

// RewriteResponse rewrites a response body (no "method" field of its own)
// using the method of the request it answers.
func RewriteResponse(body []byte, ctx *Context, dir Direction, requestMethod string) ([]byte, error) {
	switch requestMethod {
	case "textDocument/documentLink/resolve":
		return atPath("result.target")(body, ctx, dir)
	case "workspace/workspaceFolders":
		return atPath("result.#.uri")(body, ctx, dir)
	case "textDocument/documentSymbol", "textDocument/definition", "textDocument/declaration",
		"textDocument/typeDefinition", "textDocument/implementation", "textDocument/references":
		return locationArrayHandler("result")(body, ctx, dir)
	case "textDocument/codeAction":
		return codeActionResultHandler(body, ctx, dir)
	case "textDocument/rename":
		return workspaceEditHandler("result")(body, ctx, dir)
	default:
		return body, nil
	}
}

// atPath builds a handler that rewrites one or more scalar-string fields
// addressed by gjson/sjson path syntax. A path containing ".#." is expanded
// against the live array length before being applied index by index, since
// sjson cannot Set a computed value at every "#" slot in a single call.
func atPath(paths ...string) methodHandler {
	return func(body []byte, ctx *Context, dir Direction) ([]byte, error) {
		var err error
		for _, p := range paths {
			body, err = rewriteOnePath(body, p, ctx, dir)
			if err != nil {
				return nil, err
			}
		}
		return body, nil
	}
}

func rewriteOnePath(body []byte, path string, ctx *Context, dir Direction) ([]byte, error) {
	idx := indexOfWildcard(path)
	if idx < 0 {
		return rewriteScalar(body, path, ctx, dir)
	}

	arrPath := path[:idx]
	suffix := path[idx+3:] // skip ".#."
	arr := gjson.GetBytes(body, arrPath)
	if !arr.IsArray() {
		return body, nil
	}
	n := len(arr.Array())
	var err error
	for i := 0; i < n; i++ {
		elemPath := indexPath(arrPath, i, suffix)
		body, err = rewriteScalar(body, elemPath, ctx, dir)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func rewriteScalar(body []byte, path string, ctx *Context, dir Direction) ([]byte, error) {
	val := gjson.GetBytes(body, path)
	if !val.Exists() || val.Type != gjson.String {
		return body, nil
	}
	rewritten, ok := ctx.convert(dir, val.String())
	if !ok {
		return body, nil
	}
	return sjson.SetBytes(body, path, rewritten)
}

func indexOfWildcard(path string) int {
	for i := 0; i+2 < len(path); i++ {
		if path[i] == '.' && path[i+1] == '#' && path[i+2] == '.' {
			return i
		}
	}
	return -1
}

func indexPath(arrPath string, i int, suffix string) string {
	return arrPath + "." + itoaPath(i) + "." + suffix
}

func itoaPath(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// diagnosticsHandler rewrites textDocument/publishDiagnostics: the top-level
// uri, plus every diagnostic's relatedInformation[*].location.uri.
func diagnosticsHandler(body []byte, ctx *Context, dir Direction) ([]byte, error) {
	body, err := rewriteScalar(body, "params.uri", ctx, dir)
	if err != nil {
		return nil, err
	}

	diags := gjson.GetBytes(body, "params.diagnostics")
	if !diags.IsArray() {
		return body, nil
	}
	for i := range diags.Array() {
		related := gjson.GetBytes(body, indexPath("params.diagnostics", i, "relatedInformation"))
		if !related.IsArray() {
			continue
		}
		for j := range related.Array() {
			p := indexPath("params.diagnostics", i, "relatedInformation") + "." + itoaPath(j) + ".location.uri"
			body, err = rewriteScalar(body, p, ctx, dir)
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

// locationArrayHandler rewrites a result that is either a single Location,
// a single LocationLink, or an array of either — the shape LSP allows for
// definition/declaration/references/documentSymbol responses.
func locationArrayHandler(root string) methodHandler {
	return func(body []byte, ctx *Context, dir Direction) ([]byte, error) {
		val := gjson.GetBytes(body, root)
		if !val.Exists() || val.IsObject() {
			return rewriteLocationAt(body, root, ctx, dir)
		}
		if !val.IsArray() {
			return body, nil
		}
		var err error
		for i := range val.Array() {
			body, err = rewriteLocationAt(body, indexPath(root, i, ""), ctx, dir)
			if err != nil {
				return nil, err
			}
		}
		return body, nil
	}
}

// rewriteLocationAt rewrites whichever of Location.uri or
// LocationLink.targetUri is present at base (base may end in "." from the
// array-index helper above; trim it).
func rewriteLocationAt(body []byte, base string, ctx *Context, dir Direction) ([]byte, error) {
	base = trimTrailingDot(base)
	var err error
	for _, field := range []string{"uri", "targetUri", "targetSelectionRange.uri"} {
		body, err = rewriteScalar(body, base+"."+field, ctx, dir)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// codeActionResultHandler rewrites CodeAction[].edit (a WorkspaceEdit) for
// every entry in a textDocument/codeAction response.
func codeActionResultHandler(body []byte, ctx *Context, dir Direction) ([]byte, error) {
	val := gjson.GetBytes(body, "result")
	if !val.IsArray() {
		return body, nil
	}
	var err error
	for i := range val.Array() {
		editPath := indexPath("result", i, "edit")
		body, err = rewriteWorkspaceEditAt(body, editPath, ctx, dir)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// workspaceEditHandler rewrites a single top-level WorkspaceEdit field.
func workspaceEditHandler(path string) methodHandler {
	return func(body []byte, ctx *Context, dir Direction) ([]byte, error) {
		return rewriteWorkspaceEditAt(body, path, ctx, dir)
	}
}

// applyEditHandler rewrites workspace/applyEdit's params.edit.
func applyEditHandler(body []byte, ctx *Context, dir Direction) ([]byte, error) {
	return rewriteWorkspaceEditAt(body, "params.edit", ctx, dir)
}

// rewriteWorkspaceEditAt rewrites a WorkspaceEdit value at editPath: its
// `changes` map (keys are URIs — rebuilt, since sjson cannot rename an
// object key in place) and its `documentChanges` discriminated-union array
// (TextDocumentEdit | CreateFile | RenameFile | DeleteFile).
func rewriteWorkspaceEditAt(body []byte, editPath string, ctx *Context, dir Direction) ([]byte, error) {
	edit := gjson.GetBytes(body, editPath)
	if !edit.Exists() {
		return body, nil
	}

	var err error
	if changes := edit.Get("changes"); changes.Exists() && changes.IsObject() {
		body, err = rewriteChangesMap(body, editPath+".changes", ctx, dir)
		if err != nil {
			return nil, err
		}
	}

	if docChanges := edit.Get("documentChanges"); docChanges.IsArray() {
		n := len(docChanges.Array())
		docPath := editPath + ".documentChanges"
		for i := 0; i < n; i++ {
			entryPath := indexPath(docPath, i, "")
			entryPath = trimTrailingDot(entryPath)
			body, err = rewriteDocumentChangeEntry(body, entryPath, ctx, dir)
			if err != nil {
				return nil, err
			}
		}
	}

	return body, nil
}

// rewriteChangesMap rebuilds the WorkspaceEdit.changes object, rewriting
// each URI key. Sibling fields in body outside this path are untouched.
func rewriteChangesMap(body []byte, path string, ctx *Context, dir Direction) ([]byte, error) {
	obj := gjson.GetBytes(body, path)
	if !obj.IsObject() {
		return body, nil
	}

	rebuilt := "{}"
	var walkErr error
	obj.ForEach(func(key, value gjson.Result) bool {
		newKey, ok := ctx.convert(dir, key.String())
		if !ok {
			newKey = key.String()
		}
		rebuilt, walkErr = sjson.SetRaw(rebuilt, jsonKeyEscape(newKey), value.Raw)
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return sjson.SetRawBytes(body, path, []byte(rebuilt))
}

// jsonKeyEscape escapes a map key for use as an sjson path component. sjson
// path syntax treats ".", "#", "*", "?", and "\" specially (field separator,
// array index, and wildcard matching respectively); a URI key routinely
// contains "." (file extensions) and can contain the others, so each is
// backslash-escaped before the key is used as a path segment.
func jsonKeyEscape(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '#':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rewriteDocumentChangeEntry dispatches a single documentChanges[i] element
// by its discriminant: TextDocumentEdit has no "kind"; the three resource
// operations are tagged "create" | "rename" | "delete".
func rewriteDocumentChangeEntry(body []byte, entryPath string, ctx *Context, dir Direction) ([]byte, error) {
	kind := gjson.GetBytes(body, entryPath+".kind")
	var err error
	switch kind.String() {
	case "create":
		body, err = rewriteScalar(body, entryPath+".uri", ctx, dir)
	case "rename":
		body, err = rewriteScalar(body, entryPath+".oldUri", ctx, dir)
		if err == nil {
			body, err = rewriteScalar(body, entryPath+".newUri", ctx, dir)
		}
	case "delete":
		body, err = rewriteScalar(body, entryPath+".uri", ctx, dir)
	default:
		body, err = rewriteScalar(body, entryPath+".textDocument.uri", ctx, dir)
	}
	return body, err
}
