package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/render"
	"reportbot/internal/transport"
	"reportbot/pkg/logx"
)

// fakeGateway fails the first failN sends, then succeeds.
type fakeGateway struct {
	mu    sync.Mutex
	calls int
	failN int

	texts []string
	docs  []string
}

func (g *fakeGateway) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failN {
		return fmt.Errorf("send %d refused", g.calls)
	}
	g.texts = append(g.texts, text)
	return nil
}

func (g *fakeGateway) SendDocument(ctx context.Context, to transport.ChatTarget, path, caption string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failN {
		return fmt.Errorf("send %d refused", g.calls)
	}
	g.docs = append(g.docs, path)
	return nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()
	for i, want := range []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	} {
		if got := Backoff(time.Second, i); got != want {
			t.Fatalf("Backoff(1s, %d) = %v, want %v", i, got, want)
		}
	}
	// Default base is one second.
	if got := Backoff(0, 3); got != 8*time.Second {
		t.Fatalf("Backoff(0, 3) = %v, want 8s", got)
	}
}

func TestDeliverFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	d := New(Config{MaxRetries: 3, RetryBase: time.Millisecond}, gw, logx.Nop(), nil)

	attempts, err := d.Deliver(context.Background(), transport.ChatTarget{ChatID: 1},
		render.Artifact{Kind: render.KindText, Text: "hello"})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if attempts != 1 || gw.callCount() != 1 {
		t.Fatalf("attempts = %d, calls = %d, want 1/1", attempts, gw.callCount())
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	// Fails twice, succeeds on the third attempt: 3 invocations, no more.
	gw := &fakeGateway{failN: 2}
	d := New(Config{MaxRetries: 3, RetryBase: time.Millisecond}, gw, logx.Nop(), nil)

	attempts, err := d.Deliver(context.Background(), transport.ChatTarget{ChatID: 1},
		render.Artifact{Kind: render.KindText, Text: "hello"})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if attempts != 3 || gw.callCount() != 3 {
		t.Fatalf("attempts = %d, calls = %d, want 3/3", attempts, gw.callCount())
	}
}

func TestDeliverBudgetExhausted(t *testing.T) {
	t.Parallel()
	// Always fails: exactly R+1 attempts, then the failure surfaces.
	gw := &fakeGateway{failN: 1 << 30}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	d := New(Config{MaxRetries: 3, RetryBase: time.Millisecond}, gw, logx.Nop(), bus)

	attempts, err := d.Deliver(context.Background(), transport.ChatTarget{ChatID: 7},
		render.Artifact{Kind: render.KindText, Text: "hello"})
	if attempts != 4 || gw.callCount() != 4 {
		t.Fatalf("attempts = %d, calls = %d, want 4/4", attempts, gw.callCount())
	}

	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("error type %T, want *Error", err)
	}
	if derr.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4", derr.Attempts)
	}
	if derr.Unwrap() == nil {
		t.Fatal("expected wrapped underlying error")
	}

	select {
	case e := <-events:
		if e.Type != eventbus.DeliveryFailed {
			t.Fatalf("event = %s, want %s", e.Type, eventbus.DeliveryFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery.failed event")
	}
}

func TestDeliverZeroRetries(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{failN: 1 << 30}
	d := New(Config{MaxRetries: 0, RetryBase: time.Millisecond}, gw, logx.Nop(), nil)

	attempts, err := d.Deliver(context.Background(), transport.ChatTarget{ChatID: 1},
		render.Artifact{Kind: render.KindText, Text: "x"})
	if attempts != 1 || gw.callCount() != 1 {
		t.Fatalf("attempts = %d, calls = %d, want 1/1", attempts, gw.callCount())
	}
	if err == nil {
		t.Fatal("expected failure with zero retry budget")
	}
}

func TestDeliverDocumentArtifact(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	d := New(Config{MaxRetries: 0, RetryBase: time.Millisecond}, gw, logx.Nop(), nil)

	_, err := d.Deliver(context.Background(), transport.ChatTarget{ChatID: 1},
		render.Artifact{Kind: render.KindDocument, Path: "/tmp/x.html", Caption: "x"})
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(gw.docs) != 1 || gw.docs[0] != "/tmp/x.html" {
		t.Fatalf("docs = %v, want the artifact path", gw.docs)
	}
}

func TestDeliverCanceledDuringBackoff(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{failN: 1 << 30}
	d := New(Config{MaxRetries: 5, RetryBase: time.Hour}, gw, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Deliver(ctx, transport.ChatTarget{ChatID: 1},
		render.Artifact{Kind: render.KindText, Text: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the backoff wait")
	}
	if gw.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after cancel)", gw.callCount())
	}
}
