// Package delivery wraps one outbound gateway send with bounded
// exponential-backoff retry.
//
// Contract: the action is re-invoked identically on every attempt; attempts
// within one sequence are strictly sequential; intermediate failures are
// logged as warnings and only budget exhaustion surfaces to the caller.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/render"
	"reportbot/internal/transport"
	"reportbot/pkg/logx"
)

// Config is fixed once per process.
type Config struct {
	// MaxRetries is the retry budget R: an always-failing action is attempted
	// exactly R+1 times.
	MaxRetries int
	// RetryBase is the backoff unit (default 1s). The wait before retry i
	// (0-indexed) is RetryBase * 2^i: 1s, 2s, 4s, 8s, ...
	RetryBase time.Duration
}

// Error is surfaced after the attempt budget is exhausted. It wraps the last
// underlying gateway error.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Backoff returns the wait before retry attempt i (0-indexed): base * 2^i.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	// Shift saturates well before overflow matters for realistic budgets.
	if attempt > 30 {
		attempt = 30
	}
	return base << uint(attempt)
}

type Deliverer struct {
	mu  sync.Mutex
	cfg Config

	gw  transport.Gateway
	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, gw transport.Gateway, log logx.Logger, bus eventbus.Bus) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Deliverer{gw: gw, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

// Apply updates the retry tuning. In-flight sequences keep the config they
// started with.
func (d *Deliverer) Apply(cfg Config) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Deliver hands an artifact to the gateway, retrying failures up to the
// configured budget. Returns nil on the first success; *Error once the budget
// is exhausted; ctx.Err() if canceled while backing off.
func (d *Deliverer) Deliver(ctx context.Context, to transport.ChatTarget, art render.Artifact) (attempts int, err error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	send := func() error {
		switch art.Kind {
		case render.KindDocument:
			return d.gw.SendDocument(ctx, to, art.Path, art.Caption)
		default:
			return d.gw.SendText(ctx, to, art.Text)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = send()
		if lastErr == nil {
			d.publish(eventbus.DeliverySent, to, attempt+1, nil)
			return attempt + 1, nil
		}

		if attempt >= cfg.MaxRetries {
			d.publish(eventbus.DeliveryFailed, to, attempt+1, lastErr)
			return attempt + 1, &Error{Attempts: attempt + 1, Err: lastErr}
		}

		wait := Backoff(cfg.RetryBase, attempt)
		d.log.Warn("delivery attempt failed; retrying",
			logx.Int64("chat", to.ChatID),
			logx.Int("attempt", attempt+1),
			logx.Duration("backoff", wait),
			logx.Err(lastErr))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			d.publish(eventbus.DeliveryFailed, to, attempt+1, ctx.Err())
			return attempt + 1, ctx.Err()
		}
	}
}

// DeliveryEvent is the bus payload for delivery.* events.
type DeliveryEvent struct {
	Chat     int64
	Attempts int
	Error    string
}

func (d *Deliverer) publish(typ string, to transport.ChatTarget, attempts int, err error) {
	if d.bus == nil {
		return
	}
	ev := DeliveryEvent{Chat: to.ChatID, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
