// Package api exposes the HTTP and websocket surface of the pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"stt-pipeline/internal/config"
	"stt-pipeline/internal/gateway"
	"stt-pipeline/internal/jobs"
	"stt-pipeline/internal/models"
	"stt-pipeline/internal/queue"
	"stt-pipeline/internal/ratelimit"
	"stt-pipeline/internal/telemetry"
)

// Server holds the handler dependencies and builds the router.
type Server struct {
	cfg     config.Config
	jobs    *jobs.Service
	queue   *queue.RedisQueue
	hub     *gateway.Hub
	limiter *ratelimit.TokenBucket
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, svc *jobs.Service, q *queue.RedisQueue, hub *gateway.Hub, limiter *ratelimit.TokenBucket, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		jobs:    svc,
		queue:   q,
		hub:     hub,
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the app origin; auth is out of
			// band, so cross-origin upgrades are accepted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles the chi mux with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/dlq", s.handleDeadLetters)
		r.Get("/health", s.handleHealth)
	})
	r.Get("/ws", s.handleWebsocket)
	r.Handle("/metrics", telemetry.Handler())
	return r
}

// allowedUploadExts are the audio formats the transcription upstream
// accepts from us.
var allowedUploadExts = map[string]bool{
	".wav": true,
	".mp3": true,
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.logger.Warn("Rate limiter unavailable, allowing request", slog.String("error", err.Error()))
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many uploads, slow down")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "audio file exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_format", "only .wav and .mp3 uploads are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "audio file exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read_failed", "could not read uploaded file")
		return
	}

	job, err := s.jobs.Create(r.Context(), header.Filename, data)
	if err != nil {
		s.logger.Error("Create job failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "create_failed", "could not accept the job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no job with id "+id)
			return
		}
		s.logger.Error("Get job failed", slog.String("job_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "could not load the job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	list, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("List jobs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "could not list jobs")
		return
	}
	if list == nil {
		list = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.PeekDeadLetters(r.Context(), 100)
	if err != nil {
		s.logger.Error("DLQ peek failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "could not read the dead-letter queue")
		return
	}
	if entries == nil {
		entries = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebsocket upgrades the connection and pumps inbound frames into
// the hub until the peer goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := newWSConn(ws)
	s.hub.Register(conn)
	telemetry.WSConnections.Inc()
	defer func() {
		s.hub.Unregister(conn)
		telemetry.WSConnections.Dec()
		ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Websocket closed", slog.String("error", err.Error()))
			}
			return
		}
		s.hub.HandleClientMessage(r.Context(), conn, raw)
	}
}

// cors allows the browser frontend to call the API and read its headers.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until the context is cancelled, then drains with a grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.HTTPPort,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
