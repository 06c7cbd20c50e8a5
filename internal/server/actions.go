package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtnitsch/llm-doc-summarizer/internal/app"
	"github.com/urfave/cli/v2"
)

// ServeAction runs the HTTP API until interrupted.
func ServeAction(c *cli.Context) error {
	logger := app.NewLogger(c)

	cfg, err := app.LoadConfig(c)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}

	rt, err := app.Build(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(2)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           New(logger, rt.Manager, cfg.Credential),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "provider", cfg.Provider, "model", cfg.Model)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	rt.Manager.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		return err
	}
	return nil
}
