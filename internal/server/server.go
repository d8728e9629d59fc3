// Package server exposes archived runs and their reports over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vincentbai/browsetrace-sessions/internal/database"
	"github.com/vincentbai/browsetrace-sessions/internal/logging"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// RunStore is the read side of the run archive.
type RunStore interface {
	GetRun(id string) (models.RunRecord, error)
	LatestRun() (models.RunRecord, error)
	ListRuns(limit int) ([]models.RunRecord, error)
}

type Server struct {
	store   RunStore
	address string
	log     logging.Logger
	server  *http.Server
}

func NewServer(store RunStore, address string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoopLogger{}
	}
	return &Server{
		store:   store,
		address: address,
		log:     logger,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, request *http.Request) {
	limit := 0
	if raw := request.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.log.Error("Database error: %v", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	run, err := s.store.LatestRun()
	if s.lookupFailed(w, err) {
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleRun(w http.ResponseWriter, request *http.Request) {
	run, err := s.store.GetRun(mux.Vars(request)["id"])
	if s.lookupFailed(w, err) {
		return
	}
	writeJSON(w, run)
}

// handleReport serves the stored canonical bytes untouched so clients can
// check them against report_digest.
func (s *Server) handleReport(w http.ResponseWriter, request *http.Request) {
	run, err := s.store.GetRun(mux.Vars(request)["id"])
	if s.lookupFailed(w, err) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Report-Digest", run.Digest)
	w.Write(run.Report)
}

func (s *Server) lookupFailed(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, database.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	default:
		s.log.Error("Database error: %v", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
	}
	return true
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	// registered before {id} so "latest" is not taken as a run id
	r.HandleFunc("/runs/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/report", s.handleReport).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.setupRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("Report server listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	s.log.Info("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}
	s.log.Info("Server exited")
	return nil
}
