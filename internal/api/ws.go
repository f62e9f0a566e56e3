package api

import (
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mcncl/lsp-ws-proxy/internal/lsp/rewrite"
	"github.com/mcncl/lsp-ws-proxy/internal/session"
)

// WebSocketHandler upgrades connections and hands each one off to its own
// Session. A connection's `name` query parameter selects which registered
// Language Server command to spawn (registry.Lookup).
type WebSocketHandler struct {
	cfg Config
}

// NewWebSocketHandler builds the upgrade endpoint from cfg.
func NewWebSocketHandler(cfg Config) *WebSocketHandler {
	return &WebSocketHandler{cfg: cfg}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	spec, usedDefault := h.cfg.Registry.Lookup(name)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.cfg.Logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	var rewriteCtx *rewrite.Context
	if h.cfg.Remap {
		rc, err := rewrite.NewContext(h.cfg.Dir)
		if err != nil {
			h.cfg.Logger.Error("building rewrite context", zap.Error(err))
			_ = ws.Close(websocket.StatusInternalError, "rewrite context")
			return
		}
		rewriteCtx = rc
	}

	log := h.cfg.Logger.With(zap.String("server", spec.Name), zap.Bool("used_default_server", usedDefault))
	sess := session.New(session.Config{
		Spec:    spec,
		Dir:     h.cfg.Dir,
		Remap:   h.cfg.Remap,
		Sync:    h.cfg.Sync,
		Timeout: h.cfg.Timeout,
		Logger:  log,
	}, ws, rewriteCtx)

	log = log.With(zap.String("session_id", sess.ID()))
	log.Info("session starting", zap.String("command", spec.Command))

	if err := sess.Run(r.Context()); err != nil {
		log.Warn("session ended with error", zap.Error(err))
		return
	}
	log.Info("session ended")
}
