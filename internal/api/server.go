// Package api serves the record set over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JacksonYang0315/rmf-analyzer/internal/export"
	"github.com/JacksonYang0315/rmf-analyzer/internal/observability"
	"github.com/JacksonYang0315/rmf-analyzer/internal/service"
	"github.com/JacksonYang0315/rmf-analyzer/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP surface over the ingestion service
type Server struct {
	addr    string
	svc     *service.Service
	metrics *observability.Metrics
	now     func() time.Time

	httpServer *http.Server
}

// NewServer creates a server listening on addr. metrics may be nil.
func NewServer(addr string, svc *service.Service, metrics *observability.Metrics) *Server {
	return &Server{
		addr:    addr,
		svc:     svc,
		metrics: metrics,
		now:     time.Now,
	}
}

// Handler returns the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/api/metadata", s.handleMetadata)
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/export/csv", s.handleExportCSV)
	mux.HandleFunc("/api/reload", s.handleReload)
	mux.HandleFunc("/api/clear", s.handleClear)

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("addr", s.addr).Msg("HTTP server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("HTTP server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	service.Stats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: s.svc.Stats()})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Store().Metadata())
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	params, ok := queryParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Store().Query(params))
}

// handleExportCSV streams every filtered record; pagination does not apply
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	params, ok := queryParams(w, r)
	if !ok {
		return
	}
	records := store.Filter(s.svc.Store().Records(), params)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.CSVFileName(s.now())+`"`)
	if err := export.WriteCSV(w, records); err != nil {
		// Headers are already sent
		log.Warn().Err(err).Msg("CSV export interrupted")
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	batch, err := s.svc.Reload(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Reload failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	batch, err := s.svc.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// queryParams parses filter and pagination parameters, answering 400 on
// invalid values. Only the first value of a repeated key is used.
func queryParams(w http.ResponseWriter, r *http.Request) (store.Params, bool) {
	values := make(map[string]string)
	for key, vs := range r.URL.Query() {
		if len(vs) > 0 {
			values[key] = vs[0]
		}
	}

	params, err := store.ParseParams(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return store.Params{}, false
	}
	return params, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
