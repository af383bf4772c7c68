package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/cache"
	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/window"
)

// mockPipeline for testing.
type mockPipeline struct {
	mu       sync.Mutex
	state    orchestrator.State
	snapshot orchestrator.Snapshot
	pair     translation.Pair
	starts   int
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{
		snapshot: orchestrator.Snapshot{Results: []orchestrator.Result{}, Source: "es", Target: "en"},
		pair:     translation.Pair{Source: "es", Target: "en"},
	}
}

func (m *mockPipeline) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == orchestrator.Running {
		return apperrors.New(apperrors.AlreadyRunning, "processing already running")
	}
	m.state = orchestrator.Running
	m.starts++
	return nil
}

func (m *mockPipeline) Stop() {
	m.mu.Lock()
	m.state = orchestrator.Idle
	m.mu.Unlock()
}

func (m *mockPipeline) State() orchestrator.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockPipeline) LatestSnapshot() orchestrator.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockPipeline) Languages() translation.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

func (m *mockPipeline) SetLanguages(src, tgt string) error {
	pair, err := translation.ParsePair(src, tgt)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *mockPipeline) CacheStatistics() map[string]cache.Stats {
	return map[string]cache.Stats{orchestrator.RecognitionCache: {Size: 3, Capacity: 10, Hits: 1, Misses: 3, HitRate: 25}}
}

func (m *mockPipeline) DirtyRegions(context.Context) ([]screen.Region, error) {
	if m.State() != orchestrator.Running {
		return nil, apperrors.New(apperrors.Unavailable, "pipeline not built")
	}
	return []screen.Region{{X: 0, Y: 0, Width: 50, Height: 50}}, nil
}

func (m *mockPipeline) publish(text string) {
	m.mu.Lock()
	m.snapshot.Seq++
	m.snapshot.Results = []orchestrator.Result{{Original: text, Translated: strings.ToUpper(text), Confidence: 0.9}}
	m.mu.Unlock()
}

type fakeBreakers map[string]string

func (f fakeBreakers) BreakerStates() map[string]string { return f }

func newTestServer(t *testing.T) (*Server, *mockPipeline, *window.Tracker) {
	t.Helper()
	p := newMockPipeline()
	win := window.NewTracker(window.Bounds{X: 100, Y: 100, Width: 800, Height: 600})
	s := New(p, win, Options{Breakers: fakeBreakers{"recognition": "closed"}})
	t.Cleanup(s.Close)
	return s, p, win
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}
}

func TestResults(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.publish("hola")

	rec := do(t, s.Handler(), "GET", "/api/results", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("x-trace-id") == "" {
		t.Error("response should carry a trace id")
	}
	var got ResultsMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if got.Type != TypeResults || got.Seq != 1 || len(got.Results) != 1 || got.Results[0].Translated != "HOLA" {
		t.Errorf("results = %+v", got)
	}
	if got.State != "idle" {
		t.Errorf("State = %q, want %q", got.State, "idle")
	}
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s.Handler(), "GET", "/api/stats", "")
	var got StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if got.Caches[orchestrator.RecognitionCache].Size != 3 {
		t.Errorf("Caches = %+v", got.Caches)
	}
	if got.Breakers["recognition"] != "closed" {
		t.Errorf("Breakers = %v", got.Breakers)
	}
	if got.Languages.Source != "es" || got.Languages.Target != "en" {
		t.Errorf("Languages = %+v", got.Languages)
	}
}

func TestDirtyRegions(t *testing.T) {
	s, p, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, "GET", "/api/regions/dirty", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("idle status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	_ = p.Start(context.Background())
	rec := do(t, h, "GET", "/api/regions/dirty", "")
	var got struct {
		Regions []screen.Region `json:"regions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if len(got.Regions) != 1 || got.Regions[0].Width != 50 {
		t.Errorf("regions = %+v", got.Regions)
	}
}

func TestProcessingStartStop(t *testing.T) {
	s, p, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, "POST", "/api/processing/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec := do(t, h, "POST", "/api/processing/start", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var em ErrorMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &em)
	if em.Code != apperrors.AlreadyRunning.String() {
		t.Errorf("error code = %q, want %q", em.Code, apperrors.AlreadyRunning.String())
	}

	if rec := do(t, h, "POST", "/api/processing/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop status = %d, want %d", rec.Code, http.StatusOK)
	}
	if p.State() != orchestrator.Idle {
		t.Error("pipeline should be idle after stop")
	}
	if rec := do(t, h, "GET", "/api/processing/start", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestLanguages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"supported", `{"source":"en","target":"fr"}`, http.StatusOK},
		{"unsupported", `{"source":"fr","target":"de"}`, http.StatusBadRequest},
		{"unknown code", `{"source":"xx-not-a-lang","target":"en"}`, http.StatusBadRequest},
		{"malformed", `{"source":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, _ := newTestServer(t)
			rec := do(t, s.Handler(), "POST", "/api/languages", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				if got := p.Languages(); got.Source != "en" || got.Target != "fr" {
					t.Errorf("Languages() = %v, want en->fr", got)
				}
			} else if got := p.Languages(); got.Source != "es" {
				t.Errorf("rejected change altered pair to %v", got)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	s, _, win := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, "POST", "/api/window", `{"x":10,"y":20,"width":300,"height":200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := win.Bounds(); got != (window.Bounds{X: 10, Y: 20, Width: 300, Height: 200}) {
		t.Errorf("Bounds() = %+v", got)
	}

	if rec := do(t, h, "POST", "/api/window", `{"x":10,"y":20,"width":0,"height":200}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty window status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := win.Bounds(); got.Width != 300 {
		t.Errorf("invalid bounds replaced tracker state: %+v", got)
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	s, _, _ := newTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{limit: 3, window: time.Hour}
	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected", i)
		}
	}
	if rl.allow() {
		t.Error("fourth message within the window should be rejected")
	}

	rl = &rateLimiter{limit: 1, window: time.Millisecond}
	rl.allow()
	time.Sleep(5 * time.Millisecond)
	if !rl.allow() {
		t.Error("message after the window should be allowed")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.UnsupportedLanguagePair, "x"), http.StatusBadRequest},
		{apperrors.New(apperrors.AlreadyRunning, "x"), http.StatusConflict},
		{apperrors.New(apperrors.Unavailable, "x"), http.StatusServiceUnavailable},
		{apperrors.New(apperrors.RecognitionFailure, "x"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatus(tt.err); got != tt.want {
			t.Errorf("httpStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func dialWS(t *testing.T, s *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket.Dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readType(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatalf("wsjson.Read error: %v", err)
		}
		var base Message
		_ = json.Unmarshal(raw, &base)
		if base.Type == typ {
			return raw
		}
	}
}

func TestWebSocketPushesResults(t *testing.T) {
	s, p, _ := newTestServer(t)
	conn, ctx := dialWS(t, s)

	var first ResultsMessage
	_ = json.Unmarshal(readType(t, ctx, conn, TypeResults), &first)
	if first.Seq != 0 || len(first.Results) != 0 {
		t.Errorf("initial results = %+v, want empty", first)
	}

	p.publish("hola")
	s.Notify()

	for {
		var msg ResultsMessage
		_ = json.Unmarshal(readType(t, ctx, conn, TypeResults), &msg)
		if msg.Seq == 1 {
			if len(msg.Results) != 1 || msg.Results[0].Original != "hola" {
				t.Errorf("pushed results = %+v", msg.Results)
			}
			return
		}
	}
}

func TestWebSocketBounds(t *testing.T) {
	s, _, win := newTestServer(t)
	conn, ctx := dialWS(t, s)
	readType(t, ctx, conn, TypeResults)

	msg := map[string]any{"type": "bounds", "x": 40, "y": 50, "width": 640, "height": 480, "trace_id": "abc123"}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("wsjson.Write error: %v", err)
	}

	want := window.Bounds{X: 40, Y: 50, Width: 640, Height: 480}
	deadline := time.Now().Add(2 * time.Second)
	for win.Bounds() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Bounds() = %+v, want %+v", win.Bounds(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketLanguages(t *testing.T) {
	s, p, _ := newTestServer(t)
	conn, ctx := dialWS(t, s)
	readType(t, ctx, conn, TypeResults)

	_ = wsjson.Write(ctx, conn, LanguagesMessage{Type: TypeLanguages, Source: "ja", Target: "de"})
	var em ErrorMessage
	_ = json.Unmarshal(readType(t, ctx, conn, TypeError), &em)
	if em.Code != apperrors.UnsupportedLanguagePair.String() {
		t.Errorf("error code = %q, want %q", em.Code, apperrors.UnsupportedLanguagePair.String())
	}

	_ = wsjson.Write(ctx, conn, LanguagesMessage{Type: TypeLanguages, Source: "en", Target: "ja"})
	var lm LanguagesMessage
	_ = json.Unmarshal(readType(t, ctx, conn, TypeLanguages), &lm)
	if lm.Source != "en" || lm.Target != "ja" {
		t.Errorf("ack = %+v, want en->ja", lm)
	}
	if got := p.Languages(); got.Target != "ja" {
		t.Errorf("Languages() = %v", got)
	}
}
