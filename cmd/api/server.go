package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"banklink/internal/session"
	"banklink/internal/shared/config"
)

// StartServer creates the HTTP server and starts it in the background.
// A listen failure is reported on the returned channel.
func StartServer(handler http.Handler, cfg *config.Config, logger *zap.Logger) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.API.Timeout + 15*time.Second, // refresh and link calls wait on the backend
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return srv, errCh
}

// GracefulShutdown stops accepting requests, then stops every session's
// background refresh.
func GracefulShutdown(srv *http.Server, sessions *session.Manager, timeout time.Duration, logger *zap.Logger) {
	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down HTTP server", zap.Error(err))
	}

	sessions.CloseAll(timeout)
	logger.Info("server stopped")
}
