package sign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/improve"
	"github.com/loqalabs/loqa-sign/internal/pipeline"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/recognition"
	"github.com/nats-io/nats.go"
)

// Service hosts one pipeline per capture session and bridges them to the bus.
type Service struct {
	cfg        config.PipelineConfig
	timeout    time.Duration
	improveTTL time.Duration
	bus        *bus.Client
	recognizer recognition.Recognizer
	improver   improve.Improver
	store      *eventstore.Store
	logger     *slog.Logger
	clock      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  atomic.Bool
}

type session struct {
	pipeline *pipeline.Pipeline
	lastSeen time.Time
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, recognizer recognition.Recognizer, improver improve.Improver, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg.Pipeline,
		timeout:    time.Duration(cfg.Recognition.TimeoutMS) * time.Millisecond,
		improveTTL: time.Duration(cfg.Improve.TimeoutMS) * time.Millisecond,
		bus:        busClient,
		recognizer: recognizer,
		improver:   improver,
		store:      store,
		logger:     logger.With(slog.String("component", "sign-service")),
		clock:      time.Now,
		sessions:   make(map[string]*session),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	frames, err := s.bus.Conn().Subscribe(protocol.SubjectLandmarkFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe landmark frames: %w", err)
	}
	s.subs = append(s.subs, frames)

	controls, err := s.bus.Conn().Subscribe(protocol.SubjectControlPrefix+".>", s.handleControl)
	if err != nil {
		_ = frames.Drain()
		return fmt.Errorf("subscribe controls: %w", err)
	}
	s.subs = append(s.subs, controls)
	s.ready.Store(true)
	return nil
}

// Close drains subscriptions, then waits for every pipeline to settle.
func (s *Service) Close() {
	s.ready.Store(false)
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.cancel()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.pipeline.Close()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready.Load() && s.bus.Healthy()
}

// Sessions reports the number of live pipelines.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Lookup returns the pipeline for sessionID if one is live.
func (s *Service) Lookup(sessionID string) (*pipeline.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.pipeline, true
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.LandmarkFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode landmark frame", slogError(err))
		return
	}
	sessionID := resolveSession(protocol.SubjectLandmarkFramePrefix, msg.Subject, frame.SessionID)
	if sessionID == "" {
		s.logger.Warn("landmark frame without valid session", slog.String("subject", msg.Subject))
		return
	}
	p := s.session(sessionID, true)
	if p == nil {
		return
	}
	p.OnFrame(frame.Sample())
}

func (s *Service) handleControl(msg *nats.Msg) {
	var ctrl protocol.Control
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		s.logger.Warn("failed to decode control message", slogError(err))
		return
	}
	ctrl.SessionID = resolveSession(protocol.SubjectControlPrefix, msg.Subject, ctrl.SessionID)
	if ctrl.SessionID == "" {
		s.logger.Warn("control message without valid session", slog.String("subject", msg.Subject))
		return
	}
	s.Apply(ctrl)
}

// resolveSession prefers the subject token over the payload session_id.
// It returns "" when neither names a usable session.
func resolveSession(prefix, subject, payload string) string {
	if id := protocol.SessionFromSubject(prefix, subject); id != "" {
		return id
	}
	if protocol.ValidSessionID(payload) {
		return payload
	}
	return ""
}

// Apply executes a control action against its session.
func (s *Service) Apply(ctrl protocol.Control) {
	p := s.session(ctrl.SessionID, ctrl.Action != protocol.ActionStop)
	if p == nil {
		return
	}
	log := s.logger.With(slog.String("session_id", ctrl.SessionID), slog.String("action", ctrl.Action))

	switch ctrl.Action {
	case protocol.ActionReset:
		p.ResetTranscript()
	case protocol.ActionReplace:
		p.ReplaceTranscript(ctrl.Text)
	case protocol.ActionStop:
		p.Stop()
	case protocol.ActionLanguage:
		switch ctrl.Language {
		case "es", "en":
			p.SetLanguage(ctrl.Language)
		default:
			log.Warn("unsupported language", slog.String("language", ctrl.Language))
		}
	case protocol.ActionImprove:
		if s.improver == nil {
			log.Warn("sentence improvement is disabled")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.improveTTL)
			defer cancel()
			if _, err := p.Improve(ctx, s.improver); err != nil {
				log.Warn("sentence improvement failed", slogError(err))
			}
		}()
	default:
		log.Warn("unknown control action")
	}
}

// session returns the live pipeline for id, creating it when create is set.
func (s *Service) session(id string, create bool) *pipeline.Pipeline {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.lastSeen = s.clock()
		s.mu.Unlock()
		return sess.pipeline
	}
	if !create || !s.ready.Load() {
		s.mu.Unlock()
		return nil
	}

	var evicted *pipeline.Pipeline
	if limit := s.cfg.MaxSessions; limit > 0 && len(s.sessions) >= limit {
		evicted = s.evictOldestLocked()
	}
	p := pipeline.New(s.ctx, pipeline.Config{
		WindowSize: s.cfg.WindowSize,
		Cooldown:   time.Duration(s.cfg.CooldownMS) * time.Millisecond,
		Language:   s.cfg.DefaultLanguage,
		Timeout:    s.timeout,
	}, s.recognizer,
		pipeline.WithID(id),
		pipeline.WithLogger(s.logger),
		pipeline.WithOnChange(func(c pipeline.Change) { s.publishChange(id, c) }),
		pipeline.WithOnGate(func(evt pipeline.GateEvent) { s.publishGate(id, evt) }),
	)
	s.sessions[id] = &session{pipeline: p, lastSeen: s.clock()}
	s.mu.Unlock()

	if evicted != nil {
		s.logger.Info("evicting idle sign session", slog.String("session_id", evicted.ID()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			evicted.Close()
		}()
	}
	s.logger.Info("sign session started", slog.String("session_id", id))
	return p
}

func (s *Service) evictOldestLocked() *pipeline.Pipeline {
	var (
		oldestID string
		oldest   *session
	)
	for id, sess := range s.sessions {
		if oldest == nil || sess.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, sess
		}
	}
	if oldest == nil {
		return nil
	}
	delete(s.sessions, oldestID)
	return oldest.pipeline
}

func (s *Service) publishChange(sessionID string, c pipeline.Change) {
	update := protocol.TranscriptUpdate{
		SessionID:  sessionID,
		Kind:       string(c.Kind),
		Text:       c.State.Text,
		Fragment:   c.Fragment,
		Confidence: c.State.Confidence,
		Language:   c.State.Language,
		Generation: c.State.Generation,
		Revision:   c.State.Revision,
		Timestamp:  s.clock().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SessionSubject(protocol.SubjectTranscriptPrefix, sessionID), update); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.Append(ctx, eventstore.TranscriptEvent{
		SessionID:  sessionID,
		Kind:       update.Kind,
		Text:       update.Text,
		Fragment:   update.Fragment,
		Confidence: update.Confidence,
		Language:   update.Language,
		Generation: update.Generation,
		Revision:   update.Revision,
		CreatedAt:  update.Timestamp,
	})
	if err != nil {
		s.logger.Warn("failed to record transcript event", slogError(err))
	}
}

func (s *Service) publishGate(sessionID string, evt pipeline.GateEvent) {
	status := protocol.GateStatus{
		SessionID: sessionID,
		State:     string(evt.State),
		Until:     evt.Until,
		Timestamp: s.clock().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SessionSubject(protocol.SubjectGatePrefix, sessionID), status); err != nil {
		s.logger.Warn("failed to publish gate status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
