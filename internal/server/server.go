package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docugen/platform/internal/detector"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/metrics"
	"github.com/docugen/platform/internal/session"
	"github.com/docugen/platform/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type RecordMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Manual      bool   `json:"manual"`
	TraceID     string `json:"trace_id,omitempty"`
}

type StepMessage struct {
	Type string               `json:"type"`
	Step *detector.StepRecord `json:"step"`
}

type NoStepMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server exposes one capture session over REST and WebSocket, plus the
// metrics snapshot endpoints.
type Server struct {
	sess       *session.CaptureSession
	collector  *metrics.Collector
	promh      http.Handler
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server for a session. promHandler serves the Prometheus
// scrape endpoint; pass nil to use the default handler.
func New(sess *session.CaptureSession, collector *metrics.Collector, promHandler http.Handler) *Server {
	if promHandler == nil {
		promHandler = promhttp.Handler()
	}
	s := &Server{
		sess:       sess,
		collector:  collector,
		promh:      promHandler,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/pause", s.handlePause)
	mux.HandleFunc("POST /api/session/resume", s.handleResume)
	mux.HandleFunc("POST /api/session/finish", s.handleFinish)
	mux.HandleFunc("GET /api/session/status", s.handleStatus)
	mux.HandleFunc("POST /api/steps/record", s.handleRecord)
	mux.HandleFunc("POST /api/steps/merge", s.handleMerge)
	mux.HandleFunc("POST /api/steps/redetect", s.handleRedetect)
	mux.HandleFunc("POST /api/steps/undo", s.handleUndo)
	mux.HandleFunc("DELETE /api/steps/{number}", s.handleDelete)
	mux.HandleFunc("GET /api/steps", s.handleSteps)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", s.promh)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "record":
			var rec RecordMessage
			if err := json.Unmarshal(msg, &rec); err != nil {
				continue
			}
			ctx := baseCtx
			if rec.TraceID != "" {
				ctx = trace.WithContext(ctx, trace.Context{TraceID: rec.TraceID})
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			s.handleWSRecord(ctx, conn, rec)
		}
	}
}

func (s *Server) handleWSRecord(ctx context.Context, conn *websocket.Conn, rec RecordMessage) {
	log := trace.Logger(ctx)
	log.Info("recording step", "description", rec.Description, "x", rec.X, "y", rec.Y, "manual", rec.Manual)

	var step *detector.StepRecord
	var err error
	if rec.Manual {
		step, err = s.sess.RecordManualStep(ctx, rec.Description, rec.X, rec.Y)
	} else {
		step, err = s.sess.RecordStep(ctx, rec.Description, rec.X, rec.Y)
	}

	switch {
	case err != nil:
		log.Error("record step error", "error", err)
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
	case step == nil:
		_ = wsjson.Write(ctx, conn, NoStepMessage{Type: "no_step", Reason: "no significant change"})
	default:
		// Subscribers get the step via broadcastEvents; the sender gets
		// a direct acknowledgement too.
		_ = wsjson.Write(ctx, conn, StepMessage{Type: "step_recorded", Step: step})
	}
}

// broadcastEvents fans session events out to all connected clients.
func (s *Server) broadcastEvents() {
	events, cancel := s.sess.Subscribe()
	defer cancel()

	for evt := range events {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, ev session.Event) {
				_ = wsjson.Write(context.Background(), c, ev)
			}(conn, evt)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Start(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": session.StateRecording})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Pause(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": session.StatePaused})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Resume(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": session.StateRecording})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	wf, err := s.sess.Finish()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, wf)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"state":      s.sess.State(),
		"step_count": len(s.sess.Steps()),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordMessage
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	var step *detector.StepRecord
	var err error
	if req.Manual {
		step, err = s.sess.RecordManualStep(r.Context(), req.Description, req.X, req.Y)
	} else {
		step, err = s.sess.RecordStep(r.Context(), req.Description, req.X, req.Y)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if step == nil {
		writeJSON(w, map[string]any{"recorded": false})
		return
	}
	writeJSON(w, map[string]any{"recorded": true, "step": step})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		First  int `json:"first"`
		Second int `json:"second"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	merged, err := s.sess.MergeSteps(req.First, req.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, merged)
}

func (s *Server) handleRedetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Threshold <= 0 || req.Threshold > 1 {
		http.Error(w, "threshold must be in (0, 1]", http.StatusBadRequest)
		return
	}
	removed := s.sess.Redetect(req.Threshold)
	writeJSON(w, map[string]any{"removed": removed, "steps": s.sess.Steps()})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	undone, err := s.sess.UndoLastStep()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"undone": undone})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		http.Error(w, "invalid step number", http.StatusBadRequest)
		return
	}
	if err := s.sess.DeleteStep(n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"deleted": n})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sess.Steps())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats metrics.AggregateStats
	if app := r.URL.Query().Get("app"); app != "" {
		stats = s.collector.AppStats(app)
	} else {
		stats = s.collector.Stats()
	}
	writeJSON(w, map[string]any{
		"identification": stats,
		"element_cache":  s.collector.CacheStats(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error codes to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodePermissionDenied:
		status = http.StatusForbidden
	case errors.CodeQueryFailure:
		status = http.StatusConflict
	}
	trace.Logger(r.Context()).Warn("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, err.Error(), status)
}
