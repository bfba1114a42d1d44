package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peertrade/peertrade/pkg/logging"
)

const (
	metricsTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// metricsServer exposes the settlement metrics on /metrics.
type metricsServer struct {
	srv *http.Server
	log *logging.Logger
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) *metricsServer {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	s := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: metricsTimeout,
		ReadTimeout:       metricsTimeout,
	}
	m := &metricsServer{srv: s, log: log}
	go func() {
		log.Info("Starting metrics server", "address", addr)
		err := s.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()
	return m
}

func (m *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.log.Warn("Failed to shut down metrics server", "error", err)
	}
}
