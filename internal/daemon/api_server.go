package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
)

// APIServer exposes the read-only HTTP status surface plus job submission.
type APIServer struct {
	store  *jobs.Store
	logger *slog.Logger
	bind   string
	server *http.Server
}

// NewAPIServer constructs the HTTP API around a job store.
func NewAPIServer(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *APIServer {
	api := &APIServer{
		store:  store,
		logger: logging.NewComponentLogger(logger, "api"),
		bind:   cfg.Paths.APIBind,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/api/health", api.handleHealth)
	router.Get("/api/jobs", api.handleListJobs)
	router.Post("/api/jobs", api.handleSubmitJob)
	router.Get("/api/jobs/{id}", api.handleGetJob)
	router.Handle("/metrics", promhttp.Handler())

	api.server = &http.Server{
		Addr:              api.bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

// Start begins serving on the configured bind address. It returns once the
// listener is bound; serve errors after that are logged.
func (a *APIServer) Start() error {
	listener, err := net.Listen("tcp", a.bind)
	if err != nil {
		return fmt.Errorf("bind api listener: %w", err)
	}
	a.logger.Info("api listening", logging.String("addr", listener.Addr().String()))

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("api server stopped", logging.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (a *APIServer) Handler() http.Handler {
	return a.server.Handler
}

type healthResponse struct {
	Status  string       `json:"status"`
	Summary jobs.Summary `json:"jobs"`
}

func (a *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := a.store.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Summary: summary})
}

type jobResponse struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toJobResponse(job *jobs.Job) jobResponse {
	return jobResponse{
		ID:           job.ID,
		State:        string(job.State),
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *APIServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var states []jobs.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := jobs.ParseState(raw)
		if !ok {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("unknown state %q", raw))
			return
		}
		states = append(states, state)
	}

	list, err := a.store.List(r.Context(), states...)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, toJobResponse(job))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type submitRequest struct {
	Items []jobs.ItemSpec `json:"items"`
}

func (a *APIServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	job, err := a.store.CreateJob(r.Context(), req.Items)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("items", len(req.Items)))
	a.writeJSON(w, http.StatusCreated, toJobResponse(job))
}

type logEntryResponse struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type statusResponse struct {
	jobResponse
	HardFailures []string           `json:"hard_failures"`
	Log          []logEntryResponse `json:"log"`
}

func (a *APIServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := a.store.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			a.writeError(w, r, http.StatusNotFound, err)
			return
		}
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{
		jobResponse: jobResponse{
			ID:           status.ID,
			State:        string(status.State),
			Progress:     status.Progress,
			ErrorMessage: status.ErrorMessage,
			CreatedAt:    status.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:    status.UpdatedAt.UTC().Format(time.RFC3339),
		},
		HardFailures: status.HardFailures,
		Log:          make([]logEntryResponse, 0, len(status.Log)),
	}
	if resp.HardFailures == nil {
		resp.HardFailures = []string{}
	}
	for _, entry := range status.Log {
		resp.Log = append(resp.Log, logEntryResponse{
			Level:     entry.Level,
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *APIServer) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("encode response", logging.Error(err))
	}
}

func (a *APIServer) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		a.logger.Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err))
	}
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
}
