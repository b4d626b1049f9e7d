package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrSessionNotReady is returned when the session never signaled readiness
// within the bootstrap attempt budget.
var ErrSessionNotReady = errors.New("realtime: session never became ready")

const (
	defaultBootstrapAttempts = 5
	defaultBootstrapDelay    = time.Second
)

// Bootstrapper brings a freshly-opened realtime socket into a state where
// it accepts audio and produces the agreed greeting: it sends the session
// configuration, a synthetic user turn instructing the model to speak the
// greeting verbatim, and a response request.
//
// Session startup latency is short and roughly constant, so a fixed short
// delay between attempts converges fast without adding tail latency; no
// exponential backoff.
type Bootstrapper struct {
	// Ready reports whether the session socket has signaled readiness.
	Ready func() bool
	// Send writes a client message to the session socket.
	Send func(msg any) error

	Voice        string
	Instructions string
	Greeting     string

	// Attempts and Delay default to 5 and 1s. Tests shorten Delay.
	Attempts int
	Delay    time.Duration

	Log zerolog.Logger
}

// Run attempts the greeting exchange until the socket is ready or the
// attempt budget is exhausted. It is cancellable through ctx, tied to the
// relay unit's lifetime.
func (b *Bootstrapper) Run(ctx context.Context) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = defaultBootstrapAttempts
	}
	delay := b.Delay
	if delay <= 0 {
		delay = defaultBootstrapDelay
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if b.Ready() {
			return b.configure()
		}
		if attempt == attempts {
			break
		}
		b.Log.Debug().Int("attempt", attempt).Msg("session not ready, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	b.Log.Warn().Int("attempts", attempts).Msg("abandoning session bootstrap")
	return ErrSessionNotReady
}

func (b *Bootstrapper) configure() error {
	if err := b.Send(NewSessionUpdate(b.Voice, b.Instructions)); err != nil {
		return err
	}
	if b.Greeting != "" {
		if err := b.Send(NewGreetingItem(b.Greeting)); err != nil {
			return err
		}
		if err := b.Send(NewResponseCreate()); err != nil {
			return err
		}
	}
	return nil
}
