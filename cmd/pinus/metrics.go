package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/pinus"
)

// stateReporter is the part of *pinus.Client the health check needs.
type stateReporter interface {
	State() pinus.NetworkState
}

// newMetricsRouter serves /metrics from reg and /healthz from the client's
// network state.
func newMetricsRouter(reg *prometheus.Registry, client stateReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := client.State()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if state != pinus.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(state.String() + "\n"))
	})
	return r
}

// serveMetrics listens on addr and serves h until the returned stop
// function is called.
func serveMetrics(addr string, h http.Handler, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
