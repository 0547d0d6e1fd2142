package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-sign/internal/gate"
	"github.com/loqalabs/loqa-sign/internal/landmark"
	"github.com/loqalabs/loqa-sign/internal/recognition"
	"github.com/loqalabs/loqa-sign/internal/transcript"
	"github.com/loqalabs/loqa-sign/internal/window"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 10 * time.Second

// ChangeKind names the mutation that produced a transcript change.
type ChangeKind string

const (
	ChangeAppend   ChangeKind = "append"
	ChangeReset    ChangeKind = "reset"
	ChangeReplace  ChangeKind = "replace"
	ChangeImprove  ChangeKind = "improve"
	ChangeLanguage ChangeKind = "language"
)

// Change is delivered to the OnChange callback after a transcript mutation.
// Changes and gate events are delivered in the order they were applied.
type Change struct {
	Kind     ChangeKind
	Fragment string
	State    transcript.State
}

// GateEvent is delivered when a dispatch starts or settles.
type GateEvent struct {
	State gate.State
	Until time.Time
}

// Improver rewrites recognized words into a sentence.
type Improver interface {
	Improve(ctx context.Context, words, language string) (string, error)
}

type Config struct {
	WindowSize int
	Cooldown   time.Duration
	Language   string
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		WindowSize: window.DefaultSize,
		Cooldown:   gate.DefaultCooldown,
		Language:   "es",
		Timeout:    DefaultTimeout,
	}
}

// Stats are cumulative counters for one pipeline.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Dispatches uint64 `json:"dispatches"`
	Failures   uint64 `json:"failures"`
	Stale      uint64 `json:"stale"`
}

// Pipeline turns a stream of landmark samples into transcript updates. All
// state is guarded by mu; the recognizer call is the only operation performed
// without it.
type Pipeline struct {
	id         string
	cfg        Config
	recognizer recognition.Recognizer
	clock      func() time.Time
	logger     *slog.Logger
	onChange   func(Change)
	onGate     func(GateEvent)
	metrics    *metrics
	tracer     trace.Tracer

	mu         sync.Mutex
	window     *window.Buffer
	gate       *gate.Gate
	transcript *transcript.Accumulator
	stats      Stats
	closed     bool

	// Notifications are queued under mu in mutation order and delivered by
	// one goroutine at a time, outside mu.
	pending    []notification
	delivering bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Pipeline)

// WithClock replaces time.Now for cooldown accounting.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithID(id string) Option {
	return func(p *Pipeline) { p.id = id }
}

func WithOnChange(fn func(Change)) Option {
	return func(p *Pipeline) { p.onChange = fn }
}

func WithOnGate(fn func(GateEvent)) Option {
	return func(p *Pipeline) { p.onGate = fn }
}

func New(parent context.Context, cfg Config, recognizer recognition.Recognizer, opts ...Option) *Pipeline {
	defaults := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaults.WindowSize
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pipeline{
		cfg:        cfg,
		recognizer: recognizer,
		clock:      time.Now,
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.id == "" {
		p.id = uuid.NewString()
	}
	p.logger = p.logger.With(slog.String("component", "sign-pipeline"), slog.String("session_id", p.id))
	p.metrics = newMetrics(p.logger)
	p.tracer = tracer()
	p.window = window.New(cfg.WindowSize)
	p.gate = gate.New(cfg.Cooldown, p.clock)
	p.transcript = transcript.New(cfg.Language)
	return p
}

func (p *Pipeline) ID() string { return p.id }

// OnFrame encodes sample into the current window and starts a dispatch when the
// window is full and the gate is open. It never blocks on the recognizer.
func (p *Pipeline) OnFrame(sample landmark.Sample) {
	vec := landmark.Encode(sample)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stats.Frames++
	p.window.Push(vec)
	if !p.window.Full() || !p.gate.TryAcquire() {
		p.mu.Unlock()
		return
	}
	batch := p.window.Drain()
	generation := p.transcript.Generation()
	p.stats.Dispatches++
	p.wg.Add(1)
	p.enqueueLocked(notification{gate: &GateEvent{State: gate.InFlight}})
	p.mu.Unlock()

	p.metrics.dispatched(p.ctx)
	p.flush()
	go p.dispatch(batch, generation)
}

func (p *Pipeline) dispatch(batch []landmark.Vector, generation uint64) {
	defer p.wg.Done()

	dispatchID := uuid.NewString()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "sign.recognize", trace.WithAttributes(
		attribute.String("session.id", p.id),
		attribute.String("dispatch.id", dispatchID),
		attribute.Int("window.frames", len(batch)),
	))

	start := time.Now()
	result, err := p.recognize(ctx, batch)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	p.mu.Lock()
	stale := false
	switch {
	case err != nil:
		p.stats.Failures++
	case generation != p.transcript.Generation():
		p.stats.Stale++
		stale = true
	case p.transcript.Append(generation, result.Text, result.Confidence):
		p.enqueueLocked(notification{change: &Change{Kind: ChangeAppend, Fragment: strings.TrimSpace(result.Text), State: p.transcript.Snapshot()}})
	}
	p.gate.Settle()
	p.enqueueLocked(notification{gate: &GateEvent{State: gate.Cooldown, Until: p.gate.CooldownUntil()}})
	p.mu.Unlock()

	p.metrics.settled(p.ctx, latency, err != nil, stale)
	switch {
	case err != nil:
		p.logger.Warn("sign recognition failed", slog.String("dispatch_id", dispatchID), slogError(err))
	case stale:
		p.logger.Debug("discarding stale recognition result", slog.String("dispatch_id", dispatchID), slog.Uint64("generation", generation))
	default:
		p.logger.Debug("sign recognition complete", slog.String("dispatch_id", dispatchID), slog.Duration("latency", latency))
	}

	p.flush()
}

// recognize converts a recognizer panic into an error so the gate still settles.
func (p *Pipeline) recognize(ctx context.Context, batch []landmark.Vector) (result recognition.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panic: %v", r)
		}
	}()
	return p.recognizer.Recognize(ctx, batch)
}

// Transcript returns the accumulated text, latest confidence and language.
func (p *Pipeline) Transcript() transcript.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcript.Snapshot()
}

// GateState returns "open", "inflight" or "cooldown".
func (p *Pipeline) GateState() gate.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate.State()
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetTranscript clears the transcript; results still in flight are discarded.
func (p *Pipeline) ResetTranscript() {
	p.mu.Lock()
	p.transcript.Reset()
	p.enqueueLocked(notification{change: &Change{Kind: ChangeReset, State: p.transcript.Snapshot()}})
	p.mu.Unlock()
	p.flush()
}

// ReplaceTranscript overwrites the transcript; results still in flight are discarded.
func (p *Pipeline) ReplaceTranscript(text string) {
	p.mu.Lock()
	p.transcript.Replace(text)
	p.enqueueLocked(notification{change: &Change{Kind: ChangeReplace, State: p.transcript.Snapshot()}})
	p.mu.Unlock()
	p.flush()
}

func (p *Pipeline) SetLanguage(language string) {
	p.mu.Lock()
	p.transcript.SetLanguage(language)
	p.enqueueLocked(notification{change: &Change{Kind: ChangeLanguage, State: p.transcript.Snapshot()}})
	p.mu.Unlock()
	p.flush()
}

// Stop drops buffered frames and discards any result still in flight. The
// transcript text is kept.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window.Clear()
	p.transcript.Invalidate()
}

// Improve rewrites the current transcript with improver. The rewrite is applied
// only if the transcript did not change while the improver ran.
func (p *Pipeline) Improve(ctx context.Context, improver Improver) (bool, error) {
	p.mu.Lock()
	snap := p.transcript.Snapshot()
	p.mu.Unlock()

	if strings.TrimSpace(snap.Text) == "" {
		return false, nil
	}
	improved, err := improver.Improve(ctx, snap.Text, snap.Language)
	if err != nil {
		return false, fmt.Errorf("improve transcript: %w", err)
	}
	improved = strings.TrimSpace(improved)
	if improved == "" {
		return false, nil
	}

	p.mu.Lock()
	applied := p.transcript.ReplaceIf(snap.Revision, improved)
	if applied {
		p.enqueueLocked(notification{change: &Change{Kind: ChangeImprove, State: p.transcript.Snapshot()}})
	}
	p.mu.Unlock()

	if !applied {
		p.logger.Debug("discarding stale sentence improvement", slog.Uint64("revision", snap.Revision))
		return false, nil
	}
	p.flush()
	return true, nil
}

// Close stops accepting frames and waits for the in-flight dispatch to settle.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

type notification struct {
	change *Change
	gate   *GateEvent
}

func (p *Pipeline) enqueueLocked(n notification) {
	if (n.change != nil && p.onChange == nil) || (n.gate != nil && p.onGate == nil) {
		return
	}
	p.pending = append(p.pending, n)
}

// flush delivers queued notifications unless another goroutine already is,
// in which case that goroutine picks them up before it stops.
func (p *Pipeline) flush() {
	p.mu.Lock()
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	for len(p.pending) > 0 {
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()
		for _, n := range batch {
			p.deliver(n)
		}
		p.mu.Lock()
	}
	p.delivering = false
	p.mu.Unlock()
}

func (p *Pipeline) deliver(n notification) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notification callback panicked", slog.Any("panic", r))
		}
	}()
	switch {
	case n.change != nil:
		p.onChange(*n.change)
	case n.gate != nil:
		p.onGate(*n.gate)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
