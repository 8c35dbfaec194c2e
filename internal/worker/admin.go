package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"champs/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminHandler exposes the worker's health check and Prometheus metrics.
func AdminHandler(m *metrics.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// ServeAdmin listens on addr until ctx ends.
func ServeAdmin(ctx context.Context, addr string, m *metrics.Registry, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           AdminHandler(m),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("worker admin listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
