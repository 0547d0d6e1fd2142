package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/improve"
	"github.com/loqalabs/loqa-sign/internal/ingress"
	"github.com/loqalabs/loqa-sign/internal/natsserver"
	"github.com/loqalabs/loqa-sign/internal/recognition"
	"github.com/loqalabs/loqa-sign/internal/sign"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	service     *sign.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.shutdownTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/sessions/", r.handleSession)
	if r.cfg.Ingress.Enabled {
		mux.Handle(r.cfg.Ingress.Path, ingress.NewHandler(r.cfg.Ingress, r.bus, r.logger))
	}
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsSrv, "metrics")
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopComponents()
	r.shutdownTelemetry()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if url := embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	recognizer, err := recognition.New(r.cfg.Recognition)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	improver, err := improve.New(r.cfg.Improve)
	if err != nil {
		return fmt.Errorf("failed to build improver: %w", err)
	}

	r.service = sign.NewService(ctx, r.cfg, r.bus, recognizer, improver, r.store, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start sign service: %w", err)
	}
	r.logger.Info("sign service started",
		slog.String("recognition_mode", r.cfg.Recognition.Mode),
		slog.Bool("improve_enabled", improver != nil))
	return nil
}

// stopComponents tears down in reverse start order.
func (r *Runtime) stopComponents() {
	if r.service != nil {
		r.service.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) shutdownTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.service != nil && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type sessionView struct {
	SessionID  string    `json:"session_id"`
	Live       bool      `json:"live"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	Gate       string    `json:"gate,omitempty"`
	Frames     uint64    `json:"frames"`
	Dispatches uint64    `json:"dispatches"`
	Failures   uint64    `json:"failures"`
	Stale      uint64    `json:"stale"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

type eventView struct {
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Fragment   string    `json:"fragment,omitempty"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	Revision   uint64    `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
}

// handleSession serves /v1/sessions/{id} and /v1/sessions/{id}/events.
// Sessions that are no longer live are answered from the event store.
func (r *Runtime) handleSession(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, req)
		return
	}
	switch sub {
	case "":
		r.serveSession(w, req, id)
	case "events":
		r.serveEvents(w, req, id)
	default:
		http.NotFound(w, req)
	}
}

func (r *Runtime) serveSession(w http.ResponseWriter, req *http.Request, id string) {
	if p, ok := r.service.Lookup(id); ok {
		state := p.Transcript()
		stats := p.Stats()
		writeJSON(w, sessionView{
			SessionID:  id,
			Live:       true,
			Text:       state.Text,
			Confidence: state.Confidence,
			Language:   state.Language,
			Gate:       string(p.GateState()),
			Frames:     stats.Frames,
			Dispatches: stats.Dispatches,
			Failures:   stats.Failures,
			Stale:      stats.Stale,
		})
		return
	}

	evt, ok, err := r.store.Latest(req.Context(), id)
	if err != nil {
		r.logger.Warn("event store lookup failed", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, "event store unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, sessionView{
		SessionID:  id,
		Text:       evt.Text,
		Confidence: evt.Confidence,
		Language:   evt.Language,
		UpdatedAt:  evt.CreatedAt,
	})
}

func (r *Runtime) serveEvents(w http.ResponseWriter, req *http.Request, id string) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := r.store.List(req.Context(), id, limit)
	if err != nil {
		r.logger.Warn("event store list failed", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, "event store unavailable", http.StatusInternalServerError)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			Kind:       e.Kind,
			Text:       e.Text,
			Fragment:   e.Fragment,
			Confidence: e.Confidence,
			Language:   e.Language,
			Revision:   e.Revision,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
