// Package gateway exposes the bot over HTTP: health and readiness probes,
// Prometheus metrics, a JSON command API, and a Server-Sent-Events stream of
// bot notifications.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoreply/pkg/bot"
	"autoreply/pkg/bus"
	"autoreply/pkg/config"
	"autoreply/pkg/connection"
	"autoreply/pkg/metrics"
	"autoreply/pkg/rules"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	eventStreamBuffer = 64
	keepAliveInterval = 25 * time.Second
	maxRequestBody    = 64 << 10
)

// Controller is the command surface the gateway drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	TogglePause(ctx context.Context) (bool, error)
	Status(ctx context.Context) (bot.Status, error)
	Rules(ctx context.Context) (rules.RuleSet, error)
	LoadRules(ctx context.Context) (rules.RuleSet, error)
	SaveRule(ctx context.Context, index int, rule rules.Rule) (bot.RuleResult, error)
	DeleteRule(ctx context.Context, index int) (bot.RuleResult, error)
}

// EventSource is the subscribe side of the notification bus.
type EventSource interface {
	SubscribeEvents(ctx context.Context, buffer int) (<-chan bus.Event, func())
}

type Service struct {
	cfg        config.GatewayConfig
	log        *slog.Logger
	controller Controller
	events     EventSource
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	startedAt time.Time
}

type statusResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Bot           bot.Status `json:"bot"`
	Error         string     `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type pauseResponse struct {
	Paused bool `json:"paused"`
}

type rulesResponse struct {
	Rules rules.RuleSet `json:"rules"`
}

func NewService(cfg config.GatewayConfig, controller Controller, events EventSource, m *metrics.Metrics, log *slog.Logger) (*Service, error) {
	if controller == nil {
		return nil, errors.New("bot controller is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:        cfg,
		log:        log.With("component", "gateway.service"),
		controller: controller,
		events:     events,
		metrics:    m,
	}, nil
}

// Run serves HTTP until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	}
}

// Handler returns the gateway routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/bot/start", s.handleStart)
	mux.HandleFunc("POST /api/bot/stop", s.handleStop)
	mux.HandleFunc("POST /api/bot/pause", s.handlePause)

	mux.HandleFunc("GET /api/rules", s.handleRules)
	mux.HandleFunc("POST /api/rules/reload", s.handleReloadRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /api/rules/{index}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{index}", s.handleDeleteRule)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	return mux
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start gateway server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Status(r.Context())
	s.writeJSON(w, http.StatusOK, s.currentStatus("ok", status, err))
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Status(r.Context())

	statusCode := http.StatusOK
	label := "ready"
	if err != nil || !status.State.Live() {
		statusCode = http.StatusServiceUnavailable
		label = "not_ready"
	}

	s.writeJSON(w, statusCode, s.currentStatus(label, status, err))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Service) currentStatus(label string, status bot.Status, err error) statusResponse {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	uptime := int64(0)
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	return statusResponse{
		Status:        label,
		UptimeSeconds: uptime,
		Bot:           status,
		Error:         errorString(err),
	}
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.controller.Start)
}

func (s *Service) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.controller.Stop)
}

// runCommand issues a lifecycle command and answers with the resulting status.
// Connection progress after the command is reported through /api/events.
func (s *Service) runCommand(w http.ResponseWriter, r *http.Request, command func(context.Context) error) {
	if err := command(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.controller.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, status)
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	paused, err := s.controller.TogglePause(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, pauseResponse{Paused: paused})
}

func (s *Service) handleRules(w http.ResponseWriter, r *http.Request) {
	set, err := s.controller.Rules(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rulesResponse{Rules: nonNil(set)})
}

func (s *Service) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	set, err := s.controller.LoadRules(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rulesResponse{Rules: nonNil(set)})
}

func (s *Service) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	s.saveRule(w, r, rules.AppendIndex)
}

func (s *Service) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}

	s.saveRule(w, r, index)
}

func (s *Service) saveRule(w http.ResponseWriter, r *http.Request, index int) {
	var rule rules.Rule
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&rule); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decode rule: " + err.Error()})
		return
	}

	result, err := s.controller.SaveRule(r.Context(), index, rule)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeRuleResult(w, result)
}

func (s *Service) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}

	result, err := s.controller.DeleteRule(r.Context(), index)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeRuleResult(w, result)
}

func (s *Service) writeRuleResult(w http.ResponseWriter, result bot.RuleResult) {
	result.Rules = nonNil(result.Rules)

	statusCode := http.StatusOK
	if !result.Success {
		statusCode = http.StatusUnprocessableEntity
	}

	s.writeJSON(w, statusCode, result)
}

func (s *Service) pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid rule index %q", r.PathValue("index"))})
		return 0, false
	}

	return index, true
}

// handleEvents streams bus notifications as Server-Sent Events until the
// client goes away.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event stream unavailable"})
		return
	}

	ctx := r.Context()
	events, unsubscribe := s.events.SubscribeEvents(ctx, eventStreamBuffer)
	defer unsubscribe()

	controller := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := controller.Flush(); err != nil {
		s.log.Warn("Event stream does not support flushing", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				s.log.Debug("Event stream closed", "error", err)
				return
			}
		}

		if err := controller.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event bus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, connection.ErrPauseRejected):
		statusCode = http.StatusConflict
	case errors.Is(err, bot.ErrStopped):
		statusCode = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, errorResponse{Error: err.Error()})
}

func (s *Service) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func nonNil(set rules.RuleSet) rules.RuleSet {
	if set == nil {
		return rules.RuleSet{}
	}

	return set
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
