package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gregtusar/arbsync/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Reader is the read-only surface of the sync client.
type Reader interface {
	Status() models.SyncStatus
	ConnectionState() models.ConnectionState
	Hello() *models.HelloMessage
	Snapshot() *models.ArbitrageSnapshot
	LastUpdate() (time.Time, bool)
	IsFresh() bool
	HighestProfit() *models.HighestProfitRecord
}

type Server struct {
	reader Reader
	logger *logrus.Logger
	srv    *http.Server
}

func NewServer(reader Reader, logger *logrus.Logger, port string) *Server {
	s := &Server{
		reader: reader,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/connection", s.handleConnection)
	mux.HandleFunc("/api/hello", s.handleHello)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/highest-profit", s.handleHighestProfit)
	mux.Handle("/metrics", promhttp.Handler())

	return corsMiddleware(mux)
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"connected": s.reader.ConnectionState().Connected,
		"fresh":     s.reader.IsFresh(),
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reader.Status())
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	response := struct {
		models.ConnectionState
		Fresh      bool       `json:"fresh"`
		LastUpdate *time.Time `json:"last_update"`
	}{
		ConnectionState: s.reader.ConnectionState(),
		Fresh:           s.reader.IsFresh(),
	}
	if last, ok := s.reader.LastUpdate(); ok {
		response.LastUpdate = &last
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	hello := s.reader.Hello()
	if hello == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, hello)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.reader.Snapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHighestProfit(w http.ResponseWriter, r *http.Request) {
	rec := s.reader.HighestProfit()
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	response := struct {
		models.HighestProfitRecord
		Route string `json:"route"`
	}{
		HighestProfitRecord: *rec,
		Route:               rec.Route(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
