// Command lsp-ws-proxy bridges a WebSocket client to one of several
// locally spawned Language Server Protocol servers communicating over
// stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcncl/lsp-ws-proxy/internal/api"
	"github.com/mcncl/lsp-ws-proxy/internal/cliopts"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := cliopts.Parse(args, func(v string) { fmt.Println(v) })
	if err != nil {
		var cliErr *cliopts.Error
		if errors.As(err, &cliErr) {
			fmt.Fprintln(os.Stderr, cliErr.Error())
			return int(cliErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		return int(cliopts.ExitParseError)
	}
	if opts == nil {
		// -v/--version was handled by Parse's printVersion callback.
		return int(cliopts.ExitOK)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	registry, shadowed, err := cliopts.BuildRegistry(opts)
	if err != nil {
		var cliErr *cliopts.Error
		if errors.As(err, &cliErr) {
			logger.Error(cliErr.Error())
			return int(cliErr.Code)
		}
		logger.Error(err.Error())
		return int(cliopts.ExitNoServers)
	}
	if shadowed > 0 {
		logger.Warn("server registry has shadowed names", zap.Int("count", shadowed))
	}

	cwd, err := canonicalWorkingDir()
	if err != nil {
		logger.Error("resolving working directory", zap.Error(err))
		return int(cliopts.ExitBindFailure)
	}

	router := api.NewRouter(api.Config{
		Registry: registry,
		Dir:      cwd,
		Remap:    opts.Remap,
		Sync:     opts.Sync,
		Timeout:  opts.Timeout,
		Logger:   logger,
	})

	listener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		logger.Error("binding listener", zap.String("addr", opts.Listen), zap.Error(err))
		return int(cliopts.ExitBindFailure)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening",
		zap.String("addr", opts.Listen),
		zap.Int("servers", registry.Len()),
		zap.Bool("remap", opts.Remap),
		zap.Bool("sync", opts.Sync),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", zap.Error(err))
			return int(cliopts.ExitBindFailure)
		}
	case <-sig:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", zap.Error(err))
		}
	}

	return int(cliopts.ExitOK)
}

// canonicalWorkingDir resolves the process's current directory through any
// symlinks, matching rewrite.NewContext's own canonicalization so Config.Dir
// and a session's rewrite root always agree on one canonical path — even
// when the process cwd itself lies under a symlink.
func canonicalWorkingDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	canon, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		return cwd, nil
	}
	return canon, nil
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
