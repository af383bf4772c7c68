// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/cache"
	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/trace"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/window"
)

// Pipeline is the processing surface the server controls.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop()
	State() orchestrator.State
	LatestSnapshot() orchestrator.Snapshot
	Languages() translation.Pair
	SetLanguages(src, tgt string) error
	CacheStatistics() map[string]cache.Stats
	DirtyRegions(ctx context.Context) ([]screen.Region, error)
}

// WindowUpdater receives geometry reported by the overlay client.
type WindowUpdater interface {
	Update(b window.Bounds) error
}

// BreakerReporter exposes remote backend circuit breaker states.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

var (
	_ Pipeline      = (*orchestrator.Coordinator)(nil)
	_ WindowUpdater = (*window.Tracker)(nil)
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ResultsMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	orchestrator.Snapshot
}

type BoundsMessage struct {
	Type string `json:"type"`
	window.Bounds
}

type LanguagesMessage struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// StatsResponse is served by GET /api/stats.
type StatsResponse struct {
	State     string                 `json:"state"`
	Languages translation.Pair       `json:"languages"`
	Caches    map[string]cache.Stats `json:"caches"`
	Breakers  map[string]string      `json:"breakers,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	limit      int
	window     time.Duration
	timestamps []time.Time
	mu         sync.Mutex
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{limit: RateLimitMessages, window: RateLimitWindow}
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Options configures a Server.
type Options struct {
	Logger   *slog.Logger
	Breakers BreakerReporter
	// RunContext bounds processing runs started over HTTP or WebSocket.
	RunContext context.Context
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	pipeline Pipeline
	window   WindowUpdater
	breakers BreakerReporter
	runCtx   context.Context
	logger   *slog.Logger

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a new server and starts its results broadcaster.
func New(p Pipeline, win WindowUpdater, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RunContext == nil {
		opts.RunContext = context.Background()
	}
	s := &Server{
		pipeline: p,
		window:   win,
		breakers: opts.Breakers,
		runCtx:   opts.RunContext,
		logger:   opts.Logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		conns:    make(map[*websocket.Conn]struct{}),
	}

	go s.broadcastResults()

	return s
}

// Notify signals that a new snapshot is available. It never blocks, and
// signals raised before the broadcaster wakes collapse into one push.
func (s *Server) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close stops the broadcaster and disconnects every client.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.mu.Unlock()
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/regions/dirty", s.handleDirtyRegions)
	mux.HandleFunc("POST /api/processing/start", s.handleProcessingStart)
	mux.HandleFunc("POST /api/processing/stop", s.handleProcessingStop)
	mux.HandleFunc("POST /api/languages", s.handleLanguages)
	mux.HandleFunc("POST /api/window", s.handleWindow)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) results() ResultsMessage {
	return ResultsMessage{
		Type:     TypeResults,
		State:    s.pipeline.State().String(),
		Snapshot: s.pipeline.LatestSnapshot(),
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context(), s.logger)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log.Info("websocket connected", "remote", r.RemoteAddr)
	s.write(baseCtx, conn, s.results())

	rl := newRateLimiter()
	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.write(baseCtx, conn, ErrorMessage{Type: TypeError, Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		// Continue the client's trace when the message carries one.
		ctx := baseCtx
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			ctx = trace.WithContext(ctx, tc)
		}

		switch base.Type {
		case TypeBounds:
			var bm BoundsMessage
			if err := json.Unmarshal(msg, &bm); err != nil {
				s.write(ctx, conn, ErrorMessage{Type: TypeError, Message: "malformed bounds"})
				continue
			}
			if err := s.window.Update(bm.Bounds); err != nil {
				s.write(ctx, conn, errorMessage(err))
			}
		case TypeLanguages:
			var lm LanguagesMessage
			if err := json.Unmarshal(msg, &lm); err != nil {
				s.write(ctx, conn, ErrorMessage{Type: TypeError, Message: "malformed languages"})
				continue
			}
			if err := s.setLanguages(ctx, lm.Source, lm.Target); err != nil {
				s.write(ctx, conn, errorMessage(err))
				continue
			}
			p := s.pipeline.Languages()
			s.write(ctx, conn, LanguagesMessage{Type: TypeLanguages, Source: p.Source, Target: p.Target})
		default:
			trace.Logger(ctx, s.logger).Debug("unknown message type", "type", base.Type)
		}
	}
}

func (s *Server) setLanguages(ctx context.Context, src, tgt string) error {
	if err := s.pipeline.SetLanguages(src, tgt); err != nil {
		trace.Logger(ctx, s.logger).Warn("language change rejected", "source", src, "target", tgt, "error", err)
		return err
	}
	return nil
}

func errorMessage(err error) ErrorMessage {
	msg := ErrorMessage{Type: TypeError, Message: err.Error()}
	if appErr, ok := apperrors.As(err); ok {
		msg.Code = appErr.Code.String()
		msg.Message = appErr.Message
	}
	return msg
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		s.logger.Debug("websocket write error", "error", err)
	}
}

func (s *Server) broadcastResults() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		msg := s.results()

		s.mu.RLock()
		for conn := range s.conns {
			go s.write(context.Background(), conn, msg)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.results())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		State:     s.pipeline.State().String(),
		Languages: s.pipeline.Languages(),
		Caches:    s.pipeline.CacheStatistics(),
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.BreakerStates()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDirtyRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.pipeline.DirtyRegions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if regions == nil {
		regions = []screen.Region{}
	}
	writeJSON(w, http.StatusOK, map[string][]screen.Region{"regions": regions})
}

func (s *Server) handleProcessingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Start(s.runCtx); err != nil {
		trace.Logger(r.Context(), s.logger).Warn("start rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processing_started"})
}

func (s *Server) handleProcessingStop(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "processing_stopped"})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.setLanguages(r.Context(), req.Source, req.Target); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Languages())
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	var b window.Bounds
	if err := decode(w, r, &b); err != nil {
		writeError(w, err)
		return
	}
	if err := s.window.Update(b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.InvalidConfiguration, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorMessage(err))
}

func httpStatus(err error) int {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case apperrors.InvalidConfiguration, apperrors.UnsupportedLanguagePair:
		return http.StatusBadRequest
	case apperrors.AlreadyRunning:
		return http.StatusConflict
	case apperrors.Unavailable:
		return http.StatusServiceUnavailable
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
