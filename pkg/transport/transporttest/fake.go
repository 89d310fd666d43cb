// Package transporttest provides a scriptable in-memory transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"autoreply/pkg/transport"
)

// Sent records one Send call.
type Sent struct {
	Recipient string
	Text      string
}

// Fake is an in-memory transport. Tests drive it by calling Emit.
type Fake struct {
	transport.Emitter

	// InitErr is returned from Initialize.
	InitErr error
	// InitBlock, when set, makes Initialize wait until it is closed or ctx ends.
	InitBlock chan struct{}
	// SendErr, when set, decides the result of each Send.
	SendErr func(recipient string, text string) error
	// DestroyErr is returned from Destroy after the fake is marked destroyed.
	DestroyErr error

	initialized chan struct{}
	initOnce    sync.Once

	mu           sync.Mutex
	initCalls    int
	destroyCalls int
	sent         []Sent
}

// New returns a ready fake.
func New() *Fake {
	return &Fake{initialized: make(chan struct{})}
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	f.initOnce.Do(func() { close(f.initialized) })

	if f.InitBlock != nil {
		select {
		case <-f.InitBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.InitErr
}

// Initialized is closed once Initialize has been entered.
func (f *Fake) Initialized() <-chan struct{} {
	return f.initialized
}

func (f *Fake) Send(_ context.Context, recipient string, text string) error {
	f.mu.Lock()
	destroyed := f.destroyCalls > 0
	f.mu.Unlock()
	if destroyed {
		return errors.New("transport destroyed")
	}

	var err error
	if f.SendErr != nil {
		err = f.SendErr(recipient, text)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.sent = append(f.sent, Sent{Recipient: recipient, Text: text})
	}
	return err
}

func (f *Fake) Destroy(context.Context) error {
	f.mu.Lock()
	f.destroyCalls++
	f.mu.Unlock()

	return f.DestroyErr
}

// Sent returns a copy of the successful sends so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Sent(nil), f.sent...)
}

// InitCalls returns the number of Initialize calls.
func (f *Fake) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.initCalls
}

// DestroyCalls returns the number of Destroy calls.
func (f *Fake) DestroyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.destroyCalls
}

// Destroyed reports whether Destroy has been called.
func (f *Fake) Destroyed() bool {
	return f.DestroyCalls() > 0
}

// Pool hands out fakes from a Factory and remembers every instance.
type Pool struct {
	// Configure, when set, adjusts each fake before it is returned.
	Configure func(*Fake)
	// FactoryErr makes the factory fail.
	FactoryErr error

	mu      sync.Mutex
	created []*Fake
}

// Factory returns a transport.Factory backed by the pool.
func (p *Pool) Factory() transport.Factory {
	return func() (transport.Transport, error) {
		if p.FactoryErr != nil {
			return nil, p.FactoryErr
		}

		fake := New()
		if p.Configure != nil {
			p.Configure(fake)
		}

		p.mu.Lock()
		p.created = append(p.created, fake)
		p.mu.Unlock()
		return fake, nil
	}
}

// Created returns every fake produced so far.
func (p *Pool) Created() []*Fake {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*Fake(nil), p.created...)
}

// Last returns the most recent fake, or nil.
func (p *Pool) Last() *Fake {
	created := p.Created()
	if len(created) == 0 {
		return nil
	}

	return created[len(created)-1]
}

// Live returns the fakes that have not been destroyed.
func (p *Pool) Live() []*Fake {
	var live []*Fake
	for _, fake := range p.Created() {
		if !fake.Destroyed() {
			live = append(live, fake)
		}
	}

	return live
}
