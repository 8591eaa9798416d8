package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"leadpipe/internal/api"
	"leadpipe/internal/config"
	"leadpipe/internal/logging"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	reports *api.QueueService
	router  *mux.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		reports: d.reports,
	}
	srv.router = srv.routes(cfg.Paths.APIToken)
	return srv
}

func (s *apiServer) routes(token string) *mux.Router {
	router := mux.NewRouter()
	router.Use(authMiddleware(strings.TrimSpace(token)))

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stages", s.handleStages).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stuck", s.handleStuck).Methods(http.MethodGet)
	apiRouter.HandleFunc("/credentials", s.handleCredentials).Methods(http.MethodGet)
	apiRouter.HandleFunc("/reasons", s.handleReasons).Methods(http.MethodGet)
	apiRouter.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	apiRouter.HandleFunc("/records/{id:[0-9]+}", s.handleRecord).Methods(http.MethodGet)
	apiRouter.HandleFunc("/leads", s.handleLeads).Methods(http.MethodGet)
	apiRouter.HandleFunc("/leads/{id}", s.handleLead).Methods(http.MethodGet)
	apiRouter.HandleFunc("/batches", s.handleBatches).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status API unavailable until restart"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		EventBackend: status.EventBackend,
		LedgerKind:   status.LedgerKind,
		Workflow:     api.FromStatusSummary(status.Workflow),
	})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reports.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatsResponse{Counts: counts})
}

func (s *apiServer) handleStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.reports.Stages(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.StageCountsResponse{Stages: stages})
}

func (s *apiServer) handleStuck(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	records, err := s.reports.Stuck(r.Context(), hours, queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordListResponse{Records: records})
}

func (s *apiServer) handleCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.reports.Credentials(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CredentialListResponse{Credentials: creds})
}

func (s *apiServer) handleReasons(w http.ResponseWriter, r *http.Request) {
	reasons, err := s.reports.Reasons(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReasonCountsResponse{Reasons: reasons})
}

func (s *apiServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []string
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, part)
			}
		}
	}
	records, err := s.reports.List(r.Context(), api.RecordQuery{
		Statuses: statuses,
		BatchID:  strings.TrimSpace(query.Get("batch")),
		Subject:  strings.TrimSpace(query.Get("subject")),
		Limit:    queryLimit(r),
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordListResponse{Records: records})
}

func (s *apiServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	rec, err := s.reports.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordResponse{Record: *rec})
}

func (s *apiServer) handleLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.reports.Leads(r.Context(), strings.TrimSpace(r.URL.Query().Get("category")), queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LeadListResponse{Leads: leads})
}

func (s *apiServer) handleLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.reports.Lead(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lead == nil {
		s.writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.LeadResponse{Lead: *lead})
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.reports.Batches(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchListResponse{Batches: batches})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
