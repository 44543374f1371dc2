package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentinel/securitygate/pkg/config"
	"github.com/sentinel/securitygate/pkg/gate"
	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/response"
	"github.com/sentinel/securitygate/version"
)

// Publisher is the part of the broker gateway the API publishes through
type Publisher interface {
	PublishRequest(ctx context.Context, command *proto.ScanCommand, routingKey string) error
	PublishResult(ctx context.Context, payload any) error
	PublishDecision(ctx context.Context, decision *proto.DecisionMessage) error
}

// Server exposes scan requests, result webhooks and result file ingestion
// over HTTP
type Server struct {
	cfg       *config.Config
	publisher Publisher
	evaluator *gate.Evaluator
	router    *mux.Router
	// NewID supplies scan ids for requests that don't carry one
	NewID func() uuid.UUID
	now   func() time.Time
}

// NewServer wires the routes
func NewServer(cfg *config.Config, publisher Publisher, evaluator *gate.Evaluator) *Server {
	s := &Server{
		cfg:       cfg,
		publisher: publisher,
		evaluator: evaluator,
		router:    mux.NewRouter(),
		NewID:     id.NewScanID,
		now:       time.Now,
	}

	s.router.Use(logRequests)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/n8n/semgrep/result-ready", s.handleResultReady).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scan/request", s.handleScanRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scan/webhook/result", s.handleResultWebhook).Methods(http.MethodPost)

	return s
}

// ServeHTTP lets the server be used as a handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on the configured address until ctx is done and then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Ingest.ListenAddress,
		Handler:           s,
		ReadHeaderTimeout: time.Duration(s.cfg.Ingest.ReadHeaderTimeout) * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http api listening: address=%q", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Ingest.ShutdownTimeout)*time.Second)
		defer cancel()

		logger.Info("http api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.ShortVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("could not write response: error=%q", err)
	}
}

func writeError(w http.ResponseWriter, err response.GateError) {
	writeJSON(w, err.Code.HTTPStatus(), err.Body())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)
		logger.Info("handled request: method=%q path=%q status=%d duration=%q", r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}
