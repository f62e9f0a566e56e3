package api

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mcncl/lsp-ws-proxy/internal/files"
	"github.com/mcncl/lsp-ws-proxy/internal/files/schema"
)

// filesHandler implements POST /files: a batch of write/remove/rename
// operations against the working directory, validated against the request
// schema before anything touches disk.
type filesHandler struct {
	cfg    Config
	loader *schema.Loader
}

// NewFilesHandler builds the /files endpoint. It is only reachable when the
// proxy was started with file sync enabled.
func NewFilesHandler(cfg Config) http.Handler {
	return &filesHandler{cfg: cfg, loader: schema.NewLoader()}
}

func (h *filesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	if verr, err := h.loader.ValidateJSON(body); err != nil {
		h.cfg.Logger.Error("validating files payload", zap.Error(err))
		http.Error(w, "internal error validating request", http.StatusInternalServerError)
		return
	} else if verr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Message,
			"path":  verr.Path,
		})
		return
	}

	payload, err := files.DecodePayload(body)
	if err != nil {
		http.Error(w, "decoding request body", http.StatusBadRequest)
		return
	}

	executor := files.NewExecutor(h.cfg.Dir, h.cfg.Remap, h.cfg.Logger)
	resp := executor.Apply(payload)

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
