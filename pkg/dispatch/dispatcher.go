// Package dispatch sends replies and lead forwards through a transport.
//
// Every send runs on its own goroutine and is independent: a failure is
// reported and logged, never returned to the caller, and never retried.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoreply/pkg/metrics"
)

type Purpose string

const (
	PurposeReply   Purpose = "reply"
	PurposeForward Purpose = "forward"
)

// OutgoingSend is one unit of work submitted to the dispatcher.
type OutgoingSend struct {
	ID        string  `json:"id"`
	Recipient string  `json:"recipient"`
	Text      string  `json:"text"`
	Purpose   Purpose `json:"purpose"`
}

// Sender is the send capability of a transport.
type Sender interface {
	Send(ctx context.Context, recipient string, text string) error
}

// Result is the terminal outcome of one send.
type Result struct {
	Send    OutgoingSend
	Err     error
	Elapsed time.Duration
}

// Reporter receives every Result. It is called from the send goroutine.
type Reporter func(Result)

type Options struct {
	// Timeout bounds each send. Zero means no bound.
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Reporter Reporter
	Log      *slog.Logger
}

type Dispatcher struct {
	timeout  time.Duration
	metrics  *metrics.Metrics
	reporter Reporter
	log      *slog.Logger

	wg sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		reporter: opts.Reporter,
		log:      log.With("component", "dispatch.dispatcher"),
	}
}

// SendReply submits a direct reply to recipient.
func (d *Dispatcher) SendReply(sender Sender, recipient string, text string) OutgoingSend {
	return d.Submit(sender, OutgoingSend{Recipient: recipient, Text: text, Purpose: PurposeReply})
}

// SendForward submits a lead forward to target.
func (d *Dispatcher) SendForward(sender Sender, target string, payload string) OutgoingSend {
	return d.Submit(sender, OutgoingSend{Recipient: target, Text: payload, Purpose: PurposeForward})
}

// Submit starts send in the background and returns it with its ID assigned.
func (d *Dispatcher) Submit(sender Sender, send OutgoingSend) OutgoingSend {
	if send.ID == "" {
		send.ID = uuid.NewString()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(sender, send)
	}()

	return send
}

// Wait blocks until every submitted send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(sender Sender, send OutgoingSend) {
	// Sends are not tied to any caller lifecycle: stopping the bot must not
	// cancel a send already in flight.
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	err := d.send(ctx, sender, send)
	elapsed := time.Since(started)

	d.metrics.ObserveSend(string(send.Purpose), err, elapsed)
	if err != nil {
		d.log.Error("Send failed",
			"id", send.ID,
			"purpose", send.Purpose,
			"recipient", send.Recipient,
			"error", err,
		)
	} else {
		d.log.Debug("Send completed",
			"id", send.ID,
			"purpose", send.Purpose,
			"recipient", send.Recipient,
			"elapsed", elapsed,
		)
	}

	if d.reporter != nil {
		d.reporter(Result{Send: send, Err: err, Elapsed: elapsed})
	}
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, send OutgoingSend) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("send panicked: %v", recovered)
		}
	}()

	if sender == nil {
		return fmt.Errorf("send %s: no transport", send.Purpose)
	}
	if err := sender.Send(ctx, send.Recipient, send.Text); err != nil {
		return fmt.Errorf("send %s to %s: %w", send.Purpose, send.Recipient, err)
	}

	return nil
}

// FormatForward builds the payload forwarded to a lead recipient.
func FormatForward(prefix string, sender string, body string) string {
	var b strings.Builder
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n")
	}
	b.WriteString("From: ")
	b.WriteString(sender)
	b.WriteString("\n\n")
	b.WriteString(body)

	return b.String()
}
