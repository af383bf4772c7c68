package orchestrator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/cache"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/changedetect"
	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/trace"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/window"
)

// State of the coordinator.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Result is one recognized and translated piece of text.
type Result struct {
	Original   string              `json:"original"`
	Translated string              `json:"translated"`
	Confidence float64             `json:"confidence"`
	Polygon    []recognition.Point `json:"polygon"`
}

// Snapshot is the latest published result set. Seq increases with every publish.
type Snapshot struct {
	Results   []Result  `json:"results"`
	Seq       uint64    `json:"seq"`
	RunID     string    `json:"run_id,omitempty"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Components are the collaborators built on the worker's first cycle.
type Components struct {
	Capturer   screen.Capturer
	Recognizer *recognition.Recognizer
	Translator *translation.Translator
}

// SetupFunc builds Components. It runs on the worker goroutine, so slow
// model loading does not block Start.
type SetupFunc func() (*Components, error)

// Config tunes the processing loop. Zero durations and grid size take the
// package defaults. Thresholds and MinConfidence take the defaults only when
// negative; zero means any movement resets and every segment is kept.
type Config struct {
	Interval        time.Duration
	StopTimeout     time.Duration
	MoveThreshold   int
	ResizeThreshold int
	MinConfidence   float64
	GridSize        int
	Hasher          changedetect.Fingerprinter
	Supported       *translation.Supported
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.MoveThreshold < 0 {
		c.MoveThreshold = DefaultMoveThreshold
	}
	if c.ResizeThreshold < 0 {
		c.ResizeThreshold = DefaultResizeThreshold
	}
	if c.MinConfidence < 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.GridSize <= 0 {
		c.GridSize = changedetect.DefaultGridSize
	}
	if c.Supported == nil {
		c.Supported = translation.DefaultSupported()
	}
	return c
}

type pipeline struct {
	*Components
	detector *changedetect.Detector
	// cells tracks grid cells separately so they never share a key with the window region.
	cells *changedetect.Detector
}

type run struct {
	id   string
	stop chan struct{}
	done chan struct{}
}

// cycleState is owned by a single worker.
type cycleState struct {
	last      window.Bounds
	seen      bool
	processed bool
}

// Coordinator owns the single processing worker and the published snapshot.
type Coordinator struct {
	cfg    Config
	window window.Source
	logger *slog.Logger

	pipeline *syncx.Lazy[*pipeline]
	snapshot *syncx.Guard[Snapshot]
	refresh  atomic.Bool

	mu       sync.Mutex
	state    State
	run      *run
	pair     translation.Pair
	observer func()
}

// New creates an idle coordinator translating src to tgt. Nothing is built
// until the first cycle of the first run.
func New(cfg Config, win window.Source, setup SetupFunc, src, tgt string, logger *slog.Logger) (*Coordinator, error) {
	if win == nil || setup == nil {
		return nil, apperrors.New(apperrors.InvalidConfiguration, "window source and setup are required")
	}
	cfg = cfg.withDefaults()
	pair, err := cfg.Supported.Parse(src, tgt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:      cfg,
		window:   win,
		logger:   logger,
		pair:     pair,
		snapshot: syncx.NewGuard(Snapshot{Results: []Result{}, Source: pair.Source, Target: pair.Target}),
	}
	c.pipeline = syncx.NewLazy(func() (*pipeline, error) {
		comps, err := setup()
		if err != nil {
			return nil, err
		}
		if comps == nil || comps.Capturer == nil || comps.Recognizer == nil || comps.Translator == nil {
			return nil, apperrors.New(apperrors.InvalidConfiguration, "setup returned incomplete components")
		}
		p := c.Languages()
		if _, err := comps.Translator.SetPair(p.Source, p.Target); err != nil {
			return nil, err
		}
		return &pipeline{
			Components: comps,
			detector:   changedetect.New(comps.Capturer, cfg.Hasher),
			cells:      changedetect.New(comps.Capturer, cfg.Hasher),
		}, nil
	})
	return c, nil
}

// SetObserver registers fn to be called after every publish. fn runs on the
// worker goroutine and must not block.
func (c *Coordinator) SetObserver(fn func()) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// State returns whether a run is active.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the worker and returns immediately. ctx cancellation ends
// the run; it does not abort backend calls already in flight.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Running {
		id := c.run.id
		c.mu.Unlock()
		return apperrors.New(apperrors.AlreadyRunning, "processing already running").WithMetadata("run_id", id)
	}
	r := &run{id: uuid.NewString(), stop: make(chan struct{}), done: make(chan struct{})}
	c.run = r
	c.state = Running
	c.mu.Unlock()

	c.logger.Info("processing started", "run_id", r.id, "interval", c.cfg.Interval)
	go c.loop(ctx, r)
	return nil
}

// Stop ends the current run, waiting up to StopTimeout for the worker to
// exit. It is safe to call from the observer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	r := c.run
	if c.state != Running || r == nil {
		c.mu.Unlock()
		return
	}
	c.state = Idle
	c.run = nil
	close(r.stop)
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		c.logger.Info("processing stopped", "run_id", r.id)
	case <-timer.C:
		c.logger.Warn("worker did not stop in time", "run_id", r.id, "timeout", c.cfg.StopTimeout)
	}
}

// Close stops processing and releases the capturer.
func (c *Coordinator) Close() error {
	c.Stop()
	if p, ok := c.pipeline.Reset(); ok {
		return p.Capturer.Close()
	}
	return nil
}

// LatestSnapshot returns the most recently published snapshot.
func (c *Coordinator) LatestSnapshot() Snapshot { return c.snapshot.Get() }

// Languages returns the current translation pair.
func (c *Coordinator) Languages() translation.Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pair
}

// SetLanguages switches the translation pair. An unsupported pair leaves the
// current pair and translator untouched. The next cycle re-runs at the
// current window position.
func (c *Coordinator) SetLanguages(src, tgt string) error {
	pair, err := c.cfg.Supported.Parse(src, tgt)
	if err != nil {
		return err
	}
	if p, ok := c.pipeline.Peek(); ok {
		if _, err := p.Translator.SetPair(pair.Source, pair.Target); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.pair = pair
	c.mu.Unlock()
	c.refresh.Store(true)
	c.logger.Info("languages changed", "pair", pair.String())
	return nil
}

// CacheStatistics reports the recognition and translation caches once built.
func (c *Coordinator) CacheStatistics() map[string]cache.Stats {
	stats := make(map[string]cache.Stats, 2)
	if p, ok := c.pipeline.Peek(); ok {
		stats[RecognitionCache] = p.Recognizer.Stats()
		stats[TranslationCache] = p.Translator.Stats()
	}
	return stats
}

// DirtyRegions captures the current window as a grid and returns the cells
// that changed since the previous call. The first call reports every cell.
func (c *Coordinator) DirtyRegions(ctx context.Context) ([]screen.Region, error) {
	p, ok := c.pipeline.Peek()
	if !ok {
		return nil, apperrors.New(apperrors.Unavailable, "pipeline not built; start processing first")
	}
	return p.cells.DetectDirtySubregions(ctx, c.window.Bounds().Region(), c.cfg.GridSize)
}

func (c *Coordinator) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer c.finish(r)

	log := c.logger.With("run_id", r.id)
	p, err := c.pipeline.Get()
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		return
	}

	// Backend calls outlive Stop; only the loop itself watches for it.
	workCtx := context.WithoutCancel(ctx)
	st := &cycleState{}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		c.cycle(workCtx, r, p, st, log)

		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) finish(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == r {
		c.state = Idle
		c.run = nil
	}
}

func (c *Coordinator) current(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run == r
}

func (c *Coordinator) cycle(ctx context.Context, r *run, p *pipeline, st *cycleState, log *slog.Logger) {
	ctx, span := trace.StartSpan(ctx, "process_cycle")
	log = trace.Logger(ctx, log)
	bounds := c.window.Bounds()
	region := bounds.Region()
	defer func() {
		span.End()
		if v := recover(); v != nil {
			st.processed = false
			p.detector.Forget(region)
			log.Error("processing cycle panicked", "panic", v, "stack", string(debug.Stack()))
			return
		}
		log.Debug("cycle complete", "span", span)
	}()

	if st.seen && st.last.Moved(bounds, c.cfg.MoveThreshold, c.cfg.ResizeThreshold) {
		log.Info("window moved, clearing results", "from", st.last, "to", bounds)
		c.publish(r, p, []Result{})
		st.processed = false
		p.detector.Reset()
	}
	st.last, st.seen = bounds, true

	if c.refresh.CompareAndSwap(true, false) {
		st.processed = false
		p.detector.Forget(region)
	}

	obs, err := p.detector.Observe(ctx, region)
	if err != nil {
		log.Warn("capture failed", "error", err, "region", region.Key())
		return
	}
	if !obs.Changed || st.processed {
		return
	}

	st.processed = true
	results, err := c.process(ctx, p, obs)
	span.SetAttr("results", len(results))
	if err != nil {
		// Retry this placement on the next cycle.
		st.processed = false
		p.detector.Forget(region)
		log.Error("processing failed", "error", err)
		return
	}
	c.publish(r, p, results)
}

func (c *Coordinator) process(ctx context.Context, p *pipeline, obs changedetect.Observation) ([]Result, error) {
	// The recognizer keys its cache with its own exact hash; the detector's
	// fingerprint may be perceptual and match frames with different text.
	rec, err := p.Recognizer.Detect(ctx, obs.Capture.Image, c.cfg.MinConfidence)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(rec.Segments))
	if len(rec.Segments) == 0 {
		return results, nil
	}

	texts := make([]string, len(rec.Segments))
	for i, s := range rec.Segments {
		texts[i] = s.Text
	}
	translated, err := p.Translator.TranslateBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, s := range rec.Segments {
		results = append(results, Result{
			Original:   s.Text,
			Translated: translated[i],
			Confidence: s.Confidence,
			Polygon:    s.Polygon,
		})
	}
	return results, nil
}

func (c *Coordinator) publish(r *run, p *pipeline, results []Result) {
	if !c.current(r) {
		return
	}
	pair := p.Translator.Pair()
	c.snapshot.Update(func(prev Snapshot) Snapshot {
		return Snapshot{
			Results:   results,
			Seq:       prev.Seq + 1,
			RunID:     r.id,
			Source:    pair.Source,
			Target:    pair.Target,
			UpdatedAt: time.Now(),
		}
	})

	c.mu.Lock()
	notify := c.observer
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}
