package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autoreply/pkg/bus"
	"autoreply/pkg/metrics"
	"autoreply/pkg/transport"
)

const defaultDestroyTimeout = 15 * time.Second

// ErrPauseRejected is returned when pause is toggled outside Connected/Paused.
var ErrPauseRejected = errors.New("pause toggle requires a connected session")

// Hooks let the owner attach to the transport lifecycle.
type Hooks struct {
	// Attach runs once per transport, right after the lifecycle handlers are
	// registered and before Initialize. Handlers it registers post through
	// the same mailbox, so their tasks queue behind any earlier lifecycle event.
	Attach func(t transport.Transport, generation uint64)
	// Teardown runs before a transport is destroyed.
	Teardown func(t transport.Transport)
}

type Options struct {
	Publisher bus.Publisher
	Metrics   *metrics.Metrics
	// Post schedules fn on the goroutine that owns the manager. Transport
	// events, init results, and watchdog expiries are delivered through it.
	Post func(fn func())
	// ConnectTimeout fails a connection attempt stuck before Connected.
	// AwaitingPairing is exempt. Zero disables the watchdog.
	ConnectTimeout time.Duration
	// DestroyTimeout bounds Transport.Destroy during teardown.
	DestroyTimeout time.Duration
	Hooks          Hooks
	Log            *slog.Logger
}

// Manager drives one transport at a time through the connection states.
//
// Manager is not safe for concurrent use: every method, and every function
// handed to Post, must run on the same goroutine.
type Manager struct {
	publisher      bus.Publisher
	metrics        *metrics.Metrics
	post           func(func())
	connectTimeout time.Duration
	destroyTimeout time.Duration
	hooks          Hooks
	log            *slog.Logger

	state           State
	detail          string
	connectedDetail string
	paused          bool
	qrShown         bool

	transport  transport.Transport
	generation uint64
	initCancel context.CancelFunc
	watchdog   *time.Timer
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Post == nil {
		return nil, errors.New("connection manager requires a post function")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	destroyTimeout := opts.DestroyTimeout
	if destroyTimeout <= 0 {
		destroyTimeout = defaultDestroyTimeout
	}

	return &Manager{
		publisher:      opts.Publisher,
		metrics:        opts.Metrics,
		post:           opts.Post,
		connectTimeout: opts.ConnectTimeout,
		destroyTimeout: destroyTimeout,
		hooks:          opts.Hooks,
		log:            log.With("component", "connection.manager"),
		state:          Disconnected,
	}, nil
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Detail() string {
	return m.detail
}

func (m *Manager) Paused() bool {
	return m.paused
}

// Transport returns the live transport, or nil.
func (m *Manager) Transport() transport.Transport {
	return m.transport
}

// Generation identifies the current transport. It changes on every start
// and every teardown.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// Current reports whether generation still refers to the live transport.
func (m *Manager) Current(generation uint64) bool {
	return m.transport != nil && generation == m.generation
}

// Start tears down any live transport, then creates and initializes a new
// one from factory.
func (m *Manager) Start(factory transport.Factory) {
	if m.state != Disconnected && m.state != Error {
		m.Stop("restarting")
	}

	t, err := create(factory)
	if err != nil {
		m.apply(TriggerStart, "starting")
		m.logLine(slog.LevelError, fmt.Sprintf("Failed to create transport: %v", err))
		m.fail(err.Error())
		return
	}

	m.generation++
	generation := m.generation
	m.transport = t
	for _, kind := range transport.LifecycleEvents {
		t.On(kind, func(event transport.Event) {
			m.post(func() { m.HandleEvent(generation, event) })
		})
	}
	if m.hooks.Attach != nil {
		m.hooks.Attach(t, generation)
	}

	m.apply(TriggerStart, "initializing "+t.Name())
	m.armWatchdog(generation)

	ctx, cancel := context.WithCancel(context.Background())
	m.initCancel = cancel
	go func() {
		if err := initialize(ctx, t); err != nil {
			m.post(func() { m.initFailed(generation, err) })
		}
	}()
}

func create(factory transport.Factory) (transport.Transport, error) {
	if factory == nil {
		return nil, errors.New("create transport: no transport configured")
	}

	t, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	if t == nil {
		return nil, errors.New("create transport: factory returned nil")
	}

	return t, nil
}

func initialize(ctx context.Context, t transport.Transport) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("initialize panicked: %v", recovered)
		}
	}()

	return t.Initialize(ctx)
}

// Stop tears down the transport and settles in Disconnected. Stopping an
// already disconnected manager does nothing.
func (m *Manager) Stop(reason string) {
	if m.state == Disconnected && m.transport == nil {
		return
	}
	if reason == "" {
		reason = "stopped"
	}

	hadTransport := m.teardown()
	m.apply(TriggerStop, reason)
	if hadTransport {
		m.publish(bus.Event{Type: bus.EventPauseChanged, Paused: false})
	}
}

// TogglePause flips between Connected and Paused and returns the new pause
// flag. Any other state is rejected with ErrPauseRejected.
func (m *Manager) TogglePause() (bool, error) {
	switch m.state {
	case Connected:
		m.apply(TriggerPause, "paused")
		m.paused = true
	case Paused:
		m.apply(TriggerResume, m.connectedDetail)
		m.paused = false
	default:
		m.logLine(slog.LevelWarn, fmt.Sprintf("Pause ignored while %s", m.state))
		return m.paused, fmt.Errorf("%w: state is %s", ErrPauseRejected, m.state)
	}

	m.publish(bus.Event{Type: bus.EventPauseChanged, Paused: m.paused})
	return m.paused, nil
}

// HandleEvent applies one lifecycle event from the transport identified by
// generation. Events from a torn-down transport are dropped.
func (m *Manager) HandleEvent(generation uint64, event transport.Event) {
	if !m.Current(generation) {
		m.log.Debug("Dropping event from stale transport", "kind", event.Kind, "generation", generation)
		return
	}

	switch event.Kind {
	case transport.EventQR:
		if !m.apply(TriggerPairingChallenge, "scan the pairing code") {
			return
		}
		m.qrShown = true
		m.publish(bus.Event{Type: bus.EventQRReady, QR: event.QR})
	case transport.EventAuthenticated:
		if !m.apply(TriggerPairingConfirmed, withDefault(event.Detail, stepDetail[Authenticating])) {
			return
		}
		m.clearQR()
		m.armWatchdog(generation)
	case transport.EventLoading:
		if m.state.Live() {
			return
		}
		m.advance(Connecting, loadingDetail(event))
	case transport.EventReady:
		if m.state.Live() {
			m.log.Debug("Ignoring repeated ready event", "state", m.state)
			return
		}
		detail := withDefault(event.Detail, stepDetail[Connected])
		if !m.advance(Connected, detail) {
			return
		}
		m.stopWatchdog()
		m.clearQR()
		m.connectedDetail = detail
		m.logLine(slog.LevelInfo, "Connected: "+detail)
	case transport.EventAuthFailure:
		m.logLine(slog.LevelError, "Authentication failed: "+withDefault(event.Detail, "unknown reason"))
		m.fail("authentication failed: " + withDefault(event.Detail, "unknown reason"))
	case transport.EventDisconnected:
		m.logLine(slog.LevelWarn, "Disconnected: "+withDefault(event.Detail, "unknown reason"))
		m.fail("disconnected: " + withDefault(event.Detail, "unknown reason"))
	default:
		m.log.Debug("Ignoring transport event", "kind", event.Kind)
	}
}

func (m *Manager) initFailed(generation uint64, err error) {
	if !m.Current(generation) {
		return
	}

	m.logLine(slog.LevelError, fmt.Sprintf("Initialization failed: %v", err))
	m.fail(fmt.Sprintf("initialization failed: %v", err))
}

// advance walks the happy path toward target, one notified transition per
// step. A target already reached refreshes only the detail.
func (m *Manager) advance(target State, detail string) bool {
	if m.state == target {
		if target == Connecting {
			return m.apply(TriggerSessionValidated, detail)
		}
		return true
	}

	for m.state != target {
		trigger, ok := happyPath[m.state]
		if !ok {
			m.log.Warn("No path to state", "from", m.state, "to", target)
			return false
		}
		next, _ := Next(m.state, trigger)
		stepText := stepDetail[next]
		if next == target {
			stepText = detail
		}
		if !m.apply(trigger, stepText) {
			return false
		}
	}

	return true
}

// fail tears down the transport and settles in Error.
func (m *Manager) fail(detail string) {
	hadTransport := m.teardown()
	m.apply(TriggerFailure, detail)
	if hadTransport {
		m.publish(bus.Event{Type: bus.EventPauseChanged, Paused: false})
	}
}

// teardown releases the live transport. It never fails; destroy errors are
// logged. It reports whether there was a transport to release.
func (m *Manager) teardown() bool {
	m.stopWatchdog()
	if m.initCancel != nil {
		m.initCancel()
		m.initCancel = nil
	}

	m.generation++
	t := m.transport
	m.transport = nil
	m.paused = false
	m.connectedDetail = ""
	m.clearQR()

	if t == nil {
		return false
	}

	if m.hooks.Teardown != nil {
		m.hooks.Teardown(t)
	}
	t.Off()
	m.destroy(t)

	return true
}

func (m *Manager) destroy(t transport.Transport) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logLine(slog.LevelWarn, fmt.Sprintf("Transport destroy panicked: %v", recovered))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.destroyTimeout)
	defer cancel()

	if err := t.Destroy(ctx); err != nil {
		m.logLine(slog.LevelWarn, fmt.Sprintf("Transport destroy failed: %v", err))
	}
}

func (m *Manager) clearQR() {
	if !m.qrShown {
		return
	}

	m.qrShown = false
	m.publish(bus.Event{Type: bus.EventQRCleared})
}

// apply moves the machine along the edge for trigger, if the table has one.
func (m *Manager) apply(trigger Trigger, detail string) bool {
	next, ok := Next(m.state, trigger)
	if !ok {
		m.log.Warn("Ignoring trigger with no transition", "state", m.state, "trigger", trigger)
		return false
	}

	m.transition(next, detail)
	return true
}

// transition sets state and detail and publishes one state_changed, unless
// both are unchanged.
func (m *Manager) transition(next State, detail string) {
	if next == m.state && detail == m.detail {
		return
	}

	prev := m.state
	m.state = next
	m.detail = detail

	if prev != next {
		m.metrics.ObserveTransition(prev.String(), next.String())
		m.log.Info("Connection state changed", "from", prev, "to", next, "detail", detail)
	} else {
		m.log.Debug("Connection detail updated", "state", next, "detail", detail)
	}

	m.publish(bus.Event{Type: bus.EventStateChanged, State: next.String(), Detail: detail})
}

func (m *Manager) armWatchdog(generation uint64) {
	if m.connectTimeout <= 0 {
		return
	}

	m.stopWatchdog()
	m.watchdog = time.AfterFunc(m.connectTimeout, func() {
		m.post(func() { m.watchdogFired(generation) })
	})
}

func (m *Manager) stopWatchdog() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func (m *Manager) watchdogFired(generation uint64) {
	if !m.Current(generation) {
		return
	}

	switch m.state {
	case AwaitingPairing:
		m.armWatchdog(generation)
	case Initializing, Authenticating, Connecting:
		m.logLine(slog.LevelError, fmt.Sprintf("Connection timed out while %s", m.state))
		m.fail("connection timed out")
	}
}

func (m *Manager) publish(event bus.Event) {
	if m.publisher == nil {
		return
	}

	m.publisher.PublishEvent(context.Background(), event)
}

// logLine writes text to the structured log and mirrors it to subscribers.
func (m *Manager) logLine(level slog.Level, text string) {
	m.log.Log(context.Background(), level, text)
	m.publish(bus.LogLine(strings.ToLower(level.String()), text))
}

func loadingDetail(event transport.Event) string {
	detail := strings.TrimSpace(event.Detail)
	switch {
	case event.Percent > 0 && detail != "":
		return fmt.Sprintf("loading %d%% (%s)", event.Percent, detail)
	case event.Percent > 0:
		return fmt.Sprintf("loading %d%%", event.Percent)
	case detail != "":
		return detail
	default:
		return stepDetail[Connecting]
	}
}

func withDefault(value string, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}

	return fallback
}
