package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/autofix"
	"github.com/Satyampatil513/resume-editor/gateway"
	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/patch"
	"github.com/Satyampatil513/resume-editor/queue"
)

// maxBodyBytes bounds request bodies; documents are sent inline
const maxBodyBytes = 10 << 20

// Gateway is the producer side of the job queue the handlers submit to
type Gateway interface {
	CompileContent(ctx context.Context, content string) (string, error)
	CompileZip(ctx context.Context, zipURL string) (string, error)
	CheckSyntax(ctx context.Context, content string) ([]models.SyntaxIssue, error)
}

// JobTracker exposes job status records; only the memory queue keeps them
type JobTracker interface {
	GetJob(jobID string) (*queue.JobRecord, error)
	GetJobs(status models.JobStatus) []*queue.JobRecord
}

// Options configures the HTTP listener
type Options struct {
	Addr          string
	AllowedOrigin string
}

// Server handles the compile API, job status and the job event stream
type Server struct {
	gateway   Gateway
	autofix   *autofix.Orchestrator
	tracker   JobTracker
	opts      Options
	wsManager *models.WebSocketManager
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewServer creates a new server instance
func NewServer(gw Gateway, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &Server{
		gateway:   gw,
		opts:      opts,
		wsManager: models.NewWebSocketManager(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// SetAutoFix enables the fix and autofix routes
func (s *Server) SetAutoFix(o *autofix.Orchestrator) { s.autofix = o }

// SetTracker enables the job status routes
func (s *Server) SetTracker(t JobTracker) { s.tracker = t }

// NotifyJobEvent is the worker callback that forwards job updates to
// WebSocket clients
func (s *Server) NotifyJobEvent(event models.JobEvent) {
	s.wsManager.BroadcastJobEvent(event)
}

// Handler returns the routed handler wrapped in CORS middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/compile", s.handleCompile)
	mux.HandleFunc("POST /api/compile-project", s.handleCompileProject)
	mux.HandleFunc("POST /api/check-syntax", s.handleCheckSyntax)
	mux.HandleFunc("POST /api/fix-latex", s.handleFixLatex)
	mux.HandleFunc("POST /api/autofix", s.handleAutoFix)
	mux.HandleFunc("POST /api/sections", s.handleSections)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobDetails)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run serves HTTP and the WebSocket hub until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.wsManager.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

type contentRequest struct {
	Content string `json:"content"`
}

type projectRequest struct {
	ZipURL string `json:"zipUrl"`
}

type fixRequest struct {
	Code string `json:"code"`
	Logs string `json:"logs"`
}

type errorResponse struct {
	Error string `json:"error"`
	Logs  string `json:"logs,omitempty"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Content is required"})
		return
	}

	pdf, err := s.gateway.CompileContent(r.Context(), req.Content)
	if err != nil {
		s.writeJobError(w, err, "Timeout waiting for compilation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pdf": pdf})
}

func (s *Server) handleCompileProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ZipURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "zipUrl is required"})
		return
	}

	path, err := s.gateway.CompileZip(r.Context(), req.ZipURL)
	if err != nil {
		s.writeJobError(w, err, "Timeout waiting for compilation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pdfPath": path})
}

func (s *Server) handleCheckSyntax(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Content is required"})
		return
	}

	issues, err := s.gateway.CheckSyntax(r.Context(), req.Content)
	if err != nil {
		s.writeJobError(w, err, "Timeout waiting for syntax check")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.SyntaxIssue{"errors": issues})
}

func (s *Server) handleFixLatex(w http.ResponseWriter, r *http.Request) {
	if s.autofix == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "auto-fix is not configured"})
		return
	}
	var req fixRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Code == "" || req.Logs == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Both 'code' and 'logs' are required"})
		return
	}

	fixed, fix, err := s.autofix.FixOnce(r.Context(), req.Code, req.Logs)
	switch {
	case errors.Is(err, autofix.ErrNoFix):
		// Nothing to apply: hand the code back unchanged.
		writeJSON(w, http.StatusOK, map[string]any{"fixedCode": req.Code, "explanation": fix.Explanation})
		return
	case err != nil:
		s.logger.Error("fix-latex failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Failed to fix LaTeX: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fixedCode":   fixed,
		"explanation": fix.Explanation,
		"warnings":    fix.Warnings,
	})
}

func (s *Server) handleAutoFix(w http.ResponseWriter, r *http.Request) {
	if s.autofix == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "auto-fix is not configured"})
		return
	}
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Content is required"})
		return
	}

	out, err := s.autofix.Run(r.Context(), req.Content)
	if err != nil {
		status, body := jobErrorResponse(err, "Timeout waiting for compilation")
		writeJSON(w, status, struct {
			errorResponse
			Outcome *autofix.Outcome `json:"outcome"`
		}{body, out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]patch.Section{"sections": patch.ParseSections(req.Content)})
}

// handleJobs lists tracked jobs, optionally filtered by status
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "job tracking requires the memory queue"})
		return
	}

	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.StatusQueued, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid status parameter"})
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.GetJobs(status))
}

// handleJobDetails returns one tracked job
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "job tracking requires the memory queue"})
		return
	}

	job, err := s.tracker.GetJob(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleWebSocket streams job events to the client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	// The snapshot goes out before registration so only the hub writes
	// to the connection afterwards.
	if s.tracker != nil {
		initial, err := json.Marshal(map[string]any{
			"type": "initial_jobs",
			"jobs": s.tracker.GetJobs(""),
		})
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, initial)
		}
	}
	s.wsManager.RegisterClient(conn)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return false
	}
	return true
}

func (s *Server) writeJobError(w http.ResponseWriter, err error, timeoutMessage string) {
	status, body := jobErrorResponse(err, timeoutMessage)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// jobErrorResponse maps gateway outcomes onto the API's status codes: a
// failed job is a 500 with its logs, a timeout is a 504.
func jobErrorResponse(err error, timeoutMessage string) (int, errorResponse) {
	var failed *gateway.JobFailedError
	switch {
	case errors.As(err, &failed):
		return http.StatusInternalServerError, errorResponse{Error: failed.Message, Logs: failed.Logs()}
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: timeoutMessage}
	case errors.Is(err, queue.ErrUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "Job queue unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
