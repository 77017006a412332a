package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/config"
	"github.com/mehebubhossain/apex-mdapi/internal/logging"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/batches", srv.handleBatches)
	mux.HandleFunc("/api/batches/", srv.handleBatch)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, useful when the configured bind
// uses port zero.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, StatusView{
		Running:        status.Running,
		DatabasePath:   status.DatabasePath,
		LockFilePath:   status.LockFilePath,
		RunningBatches: status.RunningBatches,
	})
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listBatches(w, r)
	case http.MethodPost:
		s.createBatch(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listBatches(w http.ResponseWriter, r *http.Request) {
	var states []batch.State
	for _, value := range r.URL.Query()["state"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		state, ok := batch.ParseState(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", trimmed))
			return
		}
		states = append(states, state)
	}

	batches, err := s.daemon.ListBatches(r.Context(), states...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, batchView(b, false))
	}
	s.writeJSON(w, http.StatusOK, BatchListResponse{Batches: views})
}

type createBatchRequest struct {
	Name  string            `json:"name"`
	Items []createBatchItem `json:"items"`
}

type createBatchItem struct {
	Action          string          `json:"action"`
	Type            string          `json:"type"`
	FullName        string          `json:"full_name"`
	Body            json.RawMessage `json:"body,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	WaitForPrevious bool            `json:"wait_for_previous,omitempty"`
}

func (s *apiServer) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	specs := make([]batch.ItemSpec, 0, len(req.Items))
	for i, item := range req.Items {
		action, ok := remote.ParseAction(strings.TrimSpace(item.Action))
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d: unknown action %q", i, item.Action))
			return
		}
		if strings.TrimSpace(item.Type) == "" || strings.TrimSpace(item.FullName) == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d: type and full_name are required", i))
			return
		}
		specs = append(specs, batch.ItemSpec{
			Payload: remote.Payload{
				Action:   action,
				Type:     strings.TrimSpace(item.Type),
				FullName: strings.TrimSpace(item.FullName),
				Body:     item.Body,
			},
			Context:         item.Context,
			WaitForPrevious: item.WaitForPrevious,
		})
	}

	created, err := s.daemon.CreateBatch(r.Context(), strings.TrimSpace(req.Name), specs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, batchView(created, true))
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	b, err := s.daemon.DescribeBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, batchView(b, true))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
