// Package admin exposes a small HTTP side-channel for operational
// visibility — health, a JSON stats snapshot, and a Prometheus scrape
// endpoint — next to the core TCP wire protocol servers. It is
// deliberately plain net/http + encoding/json, the same style the
// pack's cluster registration client uses for its own request/response
// plumbing, just inbound instead of outbound.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/kverr"
)

// StatsProvider is implemented by whatever server (coordinator or
// replica) the admin surface is attached to, so /stats can report a
// point-in-time snapshot without admin depending on those packages.
type StatsProvider interface {
	Stats() Snapshot
}

// Snapshot is a point-in-time view of a server's operational state.
type Snapshot struct {
	Role       string `json:"role"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	SlaveCount int    `json:"slave_count,omitempty"` //nolint:tagliatelle
	QueueDepth int    `json:"queue_depth"`           //nolint:tagliatelle
}

// Server is the admin HTTP surface. The zero value is not usable;
// construct with New.
type Server struct {
	http     *http.Server
	log      zerolog.Logger
	provider StatsProvider
}

// New builds an admin HTTP server bound to addr. gatherer may be nil, in
// which case /metrics is not registered at all.
func New(addr string, provider StatsProvider, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{log: log, provider: provider}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.http = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.provider.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Error().Err(err).Msg("admin: encoding stats snapshot failed")
	}
}

// Serve runs the HTTP server until Shutdown is called.
func (s *Server) Serve() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return kverr.Wrap(kverr.KindTransport, err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
