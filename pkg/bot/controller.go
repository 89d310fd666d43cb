// Package bot wires the connection manager, rule store, and dispatcher into
// one controller that owns all mutable bot state.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"autoreply/pkg/bus"
	"autoreply/pkg/connection"
	"autoreply/pkg/dispatch"
	"autoreply/pkg/metrics"
	"autoreply/pkg/rules"
	"autoreply/pkg/transport"
)

const (
	DefaultForwardPrefix = "New lead"

	mailboxSize = 256
)

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("bot controller stopped")

type Options struct {
	Store     *rules.Store
	Factory   transport.Factory
	Publisher bus.Publisher
	Metrics   *metrics.Metrics
	// ConnectTimeout enables the connection watchdog when positive.
	ConnectTimeout time.Duration
	// SendTimeout bounds each outgoing send when positive.
	SendTimeout time.Duration
	// ForwardPrefix heads lead forwards for rules without their own prefix.
	ForwardPrefix string
	Log           *slog.Logger
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     connection.State `json:"state"`
	Detail    string           `json:"detail,omitempty"`
	Paused    bool             `json:"paused"`
	Transport string           `json:"transport,omitempty"`
	RuleCount int              `json:"rule_count"`
}

// RuleResult is the outcome of a rule mutation, mirrored to subscribers as
// rule_save_result or rule_delete_result.
type RuleResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Rules   rules.RuleSet `json:"rules"`
}

// Controller serializes commands and transport events through a single
// mailbox. Only the Run goroutine touches the connection manager.
type Controller struct {
	store         *rules.Store
	factory       transport.Factory
	publisher     bus.Publisher
	metrics       *metrics.Metrics
	forwardPrefix string
	log           *slog.Logger

	manager    *connection.Manager
	dispatcher *dispatch.Dispatcher

	mailbox chan func()
	done    chan struct{}
	running atomic.Bool
}

func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("bot controller requires a rule store")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.TrimSpace(opts.ForwardPrefix)
	if prefix == "" {
		prefix = DefaultForwardPrefix
	}

	c := &Controller{
		store:         opts.Store,
		factory:       opts.Factory,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		forwardPrefix: prefix,
		log:           log.With("component", "bot.controller"),
		mailbox:       make(chan func(), mailboxSize),
		done:          make(chan struct{}),
	}

	manager, err := connection.NewManager(connection.Options{
		Publisher:      opts.Publisher,
		Metrics:        opts.Metrics,
		Post:           c.post,
		ConnectTimeout: opts.ConnectTimeout,
		Hooks: connection.Hooks{
			Attach:   c.attachMessageHandler,
			Teardown: c.detachMessageHandler,
		},
		Log: log,
	})
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}
	c.manager = manager

	c.dispatcher = dispatch.New(dispatch.Options{
		Timeout:  opts.SendTimeout,
		Metrics:  opts.Metrics,
		Reporter: c.reportSend,
		Log:      log,
	})

	opts.Metrics.SetRulesActive(opts.Store.Len())

	return c, nil
}

// Run processes the mailbox until ctx is done, then stops the transport and
// waits for in-flight sends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("bot controller already running")
	}
	defer close(c.done)

	c.log.Info("Bot controller started")
	for {
		select {
		case <-ctx.Done():
			c.manager.Stop("shutting down")
			c.dispatcher.Wait()
			c.log.Info("Bot controller stopped")
			return nil
		case task := <-c.mailbox:
			c.runTask(task)
		}
	}
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) runTask(task func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logLine(slog.LevelError, fmt.Sprintf("Controller task panicked: %v", recovered))
		}
	}()

	task()
}

// post enqueues fn without waiting for it. It is safe from any goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.mailbox <- fn:
	case <-c.done:
	}
}

// do runs fn on the controller goroutine and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}

	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.mailbox <- task:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start (re)connects the transport. A live transport is torn down first.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() {
		c.logLine(slog.LevelInfo, "Starting bot")
		c.manager.Start(c.factory)
	})
}

// Stop tears down the transport. Stopping a stopped bot does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() {
		if c.manager.State() == connection.Disconnected && c.manager.Transport() == nil {
			return
		}
		c.logLine(slog.LevelInfo, "Stopping bot")
		c.manager.Stop("stopped")
	})
}

// TogglePause flips the pause flag and returns its new value. It fails with
// connection.ErrPauseRejected unless the bot is Connected or Paused.
func (c *Controller) TogglePause(ctx context.Context) (bool, error) {
	var (
		paused    bool
		toggleErr error
	)
	if err := c.do(ctx, func() {
		paused, toggleErr = c.manager.TogglePause()
		if toggleErr == nil {
			if paused {
				c.logLine(slog.LevelInfo, "Bot paused")
			} else {
				c.logLine(slog.LevelInfo, "Bot resumed")
			}
		}
	}); err != nil {
		return false, err
	}

	return paused, toggleErr
}

// LoadRules reloads the rule set from storage and publishes rules_changed.
// Storage problems are reported as log lines; the loaded (possibly empty)
// set becomes active regardless.
func (c *Controller) LoadRules(ctx context.Context) (rules.RuleSet, error) {
	var set rules.RuleSet
	err := c.do(ctx, func() {
		loaded, loadErr := c.store.Load()
		set = loaded
		switch category := rules.CategoryFromError(loadErr); {
		case loadErr == nil:
			c.logLine(slog.LevelInfo, fmt.Sprintf("Loaded %d rules", len(loaded)))
		case category == rules.ErrorStoreMissing:
			c.logLine(slog.LevelInfo, "No rules file found, started with an empty rule set")
		default:
			c.logLine(slog.LevelWarn, fmt.Sprintf("Rules loaded with problems (%d active): %v", len(loaded), loadErr))
		}

		c.metrics.SetRulesActive(len(loaded))
		c.publish(bus.Event{Type: bus.EventRulesChanged, Rules: loaded.Clone()})
	})

	return set, err
}

// SaveRule appends (index == rules.AppendIndex) or replaces a rule.
func (c *Controller) SaveRule(ctx context.Context, index int, rule rules.Rule) (RuleResult, error) {
	var result RuleResult
	err := c.do(ctx, func() {
		set, saveErr := c.store.SaveRule(index, rule)
		result = c.ruleResult(set, saveErr, "Rule saved")
		c.publish(bus.Event{Type: bus.EventRuleSaveResult, Success: result.Success, Message: result.Message, Rules: result.Rules.Clone()})
	})

	return result, err
}

// DeleteRule removes the rule at index.
func (c *Controller) DeleteRule(ctx context.Context, index int) (RuleResult, error) {
	var result RuleResult
	err := c.do(ctx, func() {
		set, deleteErr := c.store.DeleteRule(index)
		result = c.ruleResult(set, deleteErr, "Rule deleted")
		c.publish(bus.Event{Type: bus.EventRuleDeleteResult, Success: result.Success, Message: result.Message, Rules: result.Rules.Clone()})
	})

	return result, err
}

func (c *Controller) ruleResult(set rules.RuleSet, err error, okMessage string) RuleResult {
	result := RuleResult{Success: true, Message: okMessage, Rules: set}

	switch {
	case err == nil:
		c.logLine(slog.LevelInfo, fmt.Sprintf("%s (%d active)", okMessage, len(set)))
	case rules.IsPersistError(err):
		result.Message = fmt.Sprintf("%s in memory, but writing the rules file failed: %v", okMessage, err)
		c.logLine(slog.LevelWarn, result.Message)
	default:
		result.Success = false
		result.Message = err.Error()
		c.logLine(slog.LevelWarn, "Rule change rejected: "+err.Error())
	}

	if result.Success {
		c.metrics.SetRulesActive(len(set))
	}

	return result
}

// Rules returns a copy of the active rule set.
func (c *Controller) Rules(ctx context.Context) (rules.RuleSet, error) {
	var set rules.RuleSet
	err := c.do(ctx, func() {
		set = c.store.Rules()
	})

	return set, err
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, func() {
		status = Status{
			State:     c.manager.State(),
			Detail:    c.manager.Detail(),
			Paused:    c.manager.Paused(),
			RuleCount: c.store.Len(),
		}
		if t := c.manager.Transport(); t != nil {
			status.Transport = t.Name()
		}
	})

	return status, err
}

// WaitSends blocks until every submitted send has finished.
func (c *Controller) WaitSends() {
	c.dispatcher.Wait()
}

func (c *Controller) publish(event bus.Event) {
	if c.publisher == nil {
		return
	}

	c.publisher.PublishEvent(context.Background(), event)
}

// logLine writes text to the structured log and mirrors it to subscribers.
func (c *Controller) logLine(level slog.Level, text string) {
	c.log.Log(context.Background(), level, text)
	c.publish(bus.LogLine(strings.ToLower(level.String()), text))
}
