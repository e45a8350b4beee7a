// Package httpd serves the REST and SSE surface on top of the query engine
// and event bus.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/query"
)

const shutdownTimeout = 5 * time.Second

// Syncer triggers an immediate indexer cycle.
type Syncer interface {
	Trigger()
}

// Broadcaster publishes raw transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, txHex string) (chainhash.Hash, error)
}

// Config wires a Server.
type Config struct {
	Logger      *zap.Logger
	Addr        string
	CORSOrigin  string
	Query       *query.Query
	Bus         *events.Bus
	Syncer      Syncer
	Broadcaster Broadcaster
}

// Server is the HTTP adapter.
type Server struct {
	logger      *zap.Logger
	addr        string
	corsOrigin  string
	query       *query.Query
	bus         *events.Bus
	syncer      Syncer
	broadcaster Broadcaster
}

// NewServer creates the HTTP server.
func NewServer(cfg Config) *Server {
	return &Server{
		logger:      cfg.Logger.Named("http"),
		addr:        cfg.Addr,
		corsOrigin:  cfg.CORSOrigin,
		query:       cfg.Query,
		bus:         cfg.Bus,
		syncer:      cfg.Syncer,
		broadcaster: cfg.Broadcaster,
	}
}

// Run serves until the context ends, then shuts down gracefully with a
// bounded drain.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.routes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	handler := s.corsHandler().Handler(mux)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed", zap.Error(err))
			srv.Close()
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) corsHandler() *cors.Cors {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return cors.Default()
	}
	return cors.New(cors.Options{AllowedOrigins: []string{s.corsOrigin}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}
