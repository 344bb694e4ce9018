package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/vdba/internal/infrastructure/metrics"
)

// Metrics server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// buildRouter creates the HTTP router serving the metrics endpoint.
func (a *app) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(a.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Handle(a.cfg.Metrics.Path, metrics.Handler(a.gatherer))
	return r
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (a *app) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// serveMetrics starts the metrics server in the background and returns a
// function that shuts it down.
func (a *app) serveMetrics(ctx context.Context) func() {
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           a.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
	a.log.Info("serving metrics", "listen", a.cfg.Metrics.Listen, "path", a.cfg.Metrics.Path)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("metrics server shutdown", "error", err)
		}
	}
}
