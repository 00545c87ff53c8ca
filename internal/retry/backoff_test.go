package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sqlstream/tds-go/internal/tdserr"
)

func TestDoRetriesOnlyTransientErrors(t *testing.T) {
	p := Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2, Jitter: false}

	attempts := 0
	err := Do(context.Background(), p, func() error {
		attempts++
		return tdserr.New(tdserr.KindConnectTimeout, "timed out")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != p.MaxRetries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, p.MaxRetries+1)
	}
}

func TestDoStopsImmediatelyOnTerminalError(t *testing.T) {
	p := DefaultPolicy()
	attempts := 0
	wantErr := errors.New("boom")
	err := Do(context.Background(), p, func() error {
		attempts++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected immediate terminal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestWaitRespectsMaxBackoffAndJitterBounds(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, BackoffMultiplier: 10, Jitter: true}
	for i := 1; i <= 5; i++ {
		d := p.Wait(i)
		if d > 2*p.MaxBackoff {
			t.Fatalf("attempt %d: wait %v exceeds jittered max bound", i, d)
		}
	}
}
