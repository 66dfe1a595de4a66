// Package api declares the collector's HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/dialogkpi/internal/adapters/transport"
	"github.com/okian/dialogkpi/internal/domain/types"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	KPIDependencies
	SessionDependencies
	RecordsDependencies
	StatsProvider
}

// Server wires HTTP routes for the collector API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	kpiHandler     *KPIHandler
	sessionHandler *SessionHandler
	recordsHandler *RecordsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		kpiHandler:     NewKPIHandler(deps, cfg.maxBody),
		sessionHandler: NewSessionHandler(deps),
		recordsHandler: NewRecordsHandler(deps, cfg.maxRecords),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc(transport.PathSession, MetricsMiddleware(s.sessionHandler.HandleGetSession, "session"))
	mux.HandleFunc(transport.PathKPI, MetricsMiddleware(s.kpiHandler.HandlePostKPI, "kpi"))
	mux.HandleFunc("/records", MetricsMiddleware(s.recordsHandler.HandleGetRecords, "records"))
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxBody    int64
	maxRecords int
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		maxBody:    1 << 20,
		maxRecords: 500,
	}
}

// WithMaxBodyBytes caps the size of an uploaded body as sent on the wire.
func WithMaxBodyBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithMaxRecords caps the limit accepted by GET /records.
func WithMaxRecords(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxRecords = n
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}
