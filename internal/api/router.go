// Package api assembles the proxy's HTTP surface: the WebSocket upgrade
// endpoint, the always-on health check, and the optional administrative
// /files endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mcncl/lsp-ws-proxy/internal/registry"
)

// Config parameterizes the assembled router.
type Config struct {
	Registry *registry.Registry
	Dir      string
	Remap    bool
	Sync     bool
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewRouter assembles the chi router. /healthz is always mounted; /files
// is mounted only when Sync is enabled.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(loggingMiddleware(cfg.Logger))

	r.Get("/healthz", healthzHandler)
	r.Handle("/", otelhttp.NewHandler(http.HandlerFunc(NewWebSocketHandler(cfg).ServeHTTP), "lsp-ws-proxy.upgrade"))

	if cfg.Sync {
		r.Post("/files", otelhttp.NewHandler(NewFilesHandler(cfg), "lsp-ws-proxy.files").ServeHTTP)
	}

	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// loggingMiddleware logs one line per completed request at debug level;
// the proxy's interesting activity is per-session, not per-HTTP-request.
func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
