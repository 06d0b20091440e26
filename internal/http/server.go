package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/route-beacon/bird-ingester/internal/birdc"
	"go.uber.org/zap"
)

// ReadinessSource reports whether a background component is ready.
type ReadinessSource interface {
	Ready() bool
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// Daemon is the subset of the control socket client served by the API.
type Daemon interface {
	ShowStatus(ctx context.Context) (*birdc.Status, error)
	ShowProtocols(ctx context.Context) (*birdc.Protocols, error)
	ShowProtocol(ctx context.Context, name string) (*birdc.Protocol, error)
	ShowRouteTable(ctx context.Context, table string) (*birdc.RouteTable, []string, error)
}

type Server struct {
	srv          *http.Server
	dbChecker    DBChecker
	poller       ReadinessSource
	publisher    ReadinessSource
	daemon       Daemon
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewServer wires the health, metrics and API routes. publisher may be nil
// when Kafka publishing is disabled.
func NewServer(addr string, pool *pgxpool.Pool, daemon Daemon, poller, publisher ReadinessSource, queryTimeout time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		poller:       poller,
		publisher:    publisher,
		daemon:       daemon,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
	if pool != nil {
		s.dbChecker = pool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/protocols", s.handleProtocols)
	mux.HandleFunc("GET /api/v1/protocols/{name}", s.handleProtocol)
	mux.HandleFunc("GET /api/v1/tables/{table}", s.handleTable)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		allOK = false
	}

	// The poller is ready once every table has been snapshotted.
	if s.poller != nil && s.poller.Ready() {
		checks["bird"] = "ok"
	} else {
		checks["bird"] = "not_synced"
		allOK = false
	}

	if s.publisher != nil {
		if s.publisher.Ready() {
			checks["kafka"] = "ok"
		} else {
			checks["kafka"] = "error"
			allOK = false
		}
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	st, err := s.daemon.ShowStatus(ctx)
	if err != nil {
		s.writeDaemonError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	ps, err := s.daemon.ShowProtocols(ctx)
	if err != nil {
		s.writeDaemonError(w, "protocols", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	name := r.PathValue("name")
	p, err := s.daemon.ShowProtocol(ctx, name)
	if err != nil {
		var pe *birdc.ParseError
		if errors.As(err, &pe) && pe.Value == name {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "protocol not found"})
			return
		}
		s.writeDaemonError(w, "protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	table := r.PathValue("table")
	rt, _, err := s.daemon.ShowRouteTable(ctx, table)
	if err != nil {
		s.writeDaemonError(w, "table", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":  table,
		"routes": rt,
	})
}

func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.queryTimeout)
}

// writeDaemonError maps control socket failures to HTTP statuses. Errors
// reported by the daemon are passed through verbatim.
func (s *Server) writeDaemonError(w http.ResponseWriter, endpoint string, err error) {
	var (
		protoErr *birdc.ProtocolError
		parseErr *birdc.ParseError
	)
	switch {
	case errors.Is(err, birdc.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &protoErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": protoErr.Message, "code": protoErr.Code})
	case errors.As(err, &parseErr):
		s.logger.Warn("undecodable daemon reply", zap.String("endpoint", endpoint), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "undecodable daemon reply"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "daemon query timed out"})
	default:
		s.logger.Warn("daemon query failed", zap.String("endpoint", endpoint), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
