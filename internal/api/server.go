// Package api provides the HTTP control API of a running recplay agent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"recplay/internal/config"
	"recplay/internal/errkind"
	"recplay/internal/protocol"
	"recplay/internal/session"
	"recplay/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server provides HTTP API for remote control
type Server struct {
	configMgr *config.Manager
	session   *session.Session
	logger    *slog.Logger
	wsMgr     *WSManager
	router    chi.Router
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, sess *session.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		configMgr: configMgr,
		session:   sess,
		logger:    logger.With("component", "api"),
	}
	s.wsMgr = newWSManager(s)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/record/start", s.handleRecordStart)
		r.Post("/api/record/stop", s.handleRecordStop)
		r.Post("/api/replay", s.handleReplay)
		r.Post("/api/replay/cancel", s.handleCancelActive)
		r.Get("/api/replay/{id}", s.handleReplayStatus)
		r.Post("/api/replay/{id}/cancel", s.handleCancel)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/log", s.handleLog)
		r.Get("/ws", s.wsMgr.handleWebSocket)
	})
	return r
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the WebSocket hub and serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("API server failed to listen", "addr", addr, "error", err)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.wsMgr.start(hubCtx)

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API server shutdown incomplete", "error", err)
		}
	}()

	s.logger.Info("Starting API server", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server stopped", "error", err)
		return err
	}
	// Serve returns as soon as Shutdown starts; wait for in-flight requests.
	<-drained
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Recovered from panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "E_INTERNAL", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the API token if one is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.configMgr.Get().API.Token
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "E_UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRecordStart handles POST /api/record/start
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.session.StartRecording()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RecordingStarted{RunID: id})
}

// handleRecordStop handles POST /api/record/stop
func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	body, err := s.stopRecording()
	if err != nil && body == nil {
		s.fail(w, err)
		return
	}
	if err != nil {
		// The recording exists in memory but could not be written.
		writeJSON(w, http.StatusInternalServerError, struct {
			protocol.RecordingStopped
			Error protocol.ErrorBody `json:"error"`
		}{*body, errorBody(err)})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) stopRecording() (*protocol.RecordingStopped, error) {
	res, err := s.session.StopRecording()
	if res == nil {
		return nil, err
	}
	return &protocol.RecordingStopped{
		RunID:      res.RunID,
		Actions:    res.Log.Len(),
		Dropped:    res.Dropped,
		DurationMS: res.Duration.Milliseconds(),
		LastAction: res.Log.Duration(),
		Path:       s.session.Status().LogPath,
		Persisted:  err == nil,
	}, err
}

// handleReplay handles POST /api/replay?loops=<n>&speed=<x>
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	loops, speed, err := s.replayArgs(r.URL.Query().Get("loops"), r.URL.Query().Get("speed"))
	if err != nil {
		s.fail(w, err)
		return
	}
	body, err := s.startReplay(loops, speed)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, body)
}

func (s *Server) replayArgs(loopsStr, speedStr string) (int, float64, error) {
	defaults := s.configMgr.Get().Replay
	loops, speed := defaults.Loops, defaults.Speed

	if loopsStr != "" {
		n, err := strconv.Atoi(loopsStr)
		if err != nil {
			return 0, 0, errkind.ErrInvalidLoopCount.WithMessagef("loops must be an integer, got %q", loopsStr)
		}
		loops = n
	}
	if speedStr != "" {
		f, err := strconv.ParseFloat(speedStr, 64)
		if err != nil {
			return 0, 0, errkind.ErrInvalidSpeed.WithMessagef("speed must be a number, got %q", speedStr)
		}
		speed = f
	}
	return loops, speed, nil
}

func (s *Server) startReplay(loops int, speed float64) (*protocol.ReplayStarted, error) {
	h, err := s.session.Replay(loops, speed)
	if err != nil {
		return nil, err
	}
	return &protocol.ReplayStarted{ID: h.ID, Loops: h.Loops, Speed: h.Speed, Actions: h.Actions}, nil
}

// handleCancelActive handles POST /api/replay/cancel
func (s *Server) handleCancelActive(w http.ResponseWriter, r *http.Request) {
	s.session.Cancel(nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleCancel handles POST /api/replay/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.session.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "E_UNKNOWN_RUN", fmt.Sprintf("no replay run %q", id))
		return
	}
	s.session.Cancel(h)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

// handleReplayStatus handles GET /api/replay/{id}
func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := s.session.Status()
	if st.Replay == nil || st.Replay.ID != id {
		writeError(w, http.StatusNotFound, "E_UNKNOWN_RUN", fmt.Sprintf("no replay run %q", id))
		return
	}
	writeJSON(w, http.StatusOK, st.Replay)
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleLog handles GET /api/log
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	log, skipped, err := s.session.LoadRecording()
	if err != nil {
		s.fail(w, err)
		return
	}
	data, err := store.Marshal(log.Actions())
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := protocol.LogResponse{Path: s.session.Status().LogPath, Actions: data}
	for _, sk := range skipped {
		resp.Skipped = append(resp.Skipped, protocol.SkippedRecord{Index: sk.Index, Reason: sk.Reason.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	body := errorBody(err)
	writeError(w, status, body.Code, body.Message)
}

// statusFor maps error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errkind.ErrInvalidLoopCount), errors.Is(err, errkind.ErrInvalidSpeed):
		return http.StatusBadRequest
	case errors.Is(err, errkind.ErrNoRecording):
		return http.StatusNotFound
	case errors.Is(err, errkind.ErrAlreadyRecording),
		errors.Is(err, errkind.ErrNotRecording),
		errors.Is(err, errkind.ErrReplayInProgress):
		return http.StatusConflict
	case errors.Is(err, errkind.ErrMalformedRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errkind.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) protocol.ErrorBody {
	code := errkind.Code(err)
	if code == "" {
		code = "E_INTERNAL"
	}
	return protocol.ErrorBody{Code: code, Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorBody{Code: code, Message: msg})
}
