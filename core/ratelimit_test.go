package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// rate.Limiter schedules on its own clock reads; allow for that jitter.
const clockSlack = 15 * time.Millisecond

func TestCallLimiterNextCallWaitsForWindow(t *testing.T) {
	window := 300 * time.Millisecond
	l := NewCallLimiter(3, window)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if burst := time.Since(start); burst > window/2 {
		t.Fatalf("first three calls should pass at once, took %s", burst)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("fourth call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window-clockSlack {
		t.Errorf("fourth call admitted after %s, before the %s window passed", elapsed, window)
	}
}

func TestCallLimiterCeilingHoldsInEveryWindow(t *testing.T) {
	const calls = 3
	window := 200 * time.Millisecond
	l := NewCallLimiter(calls, window)

	var mu sync.Mutex
	var admitted []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3*calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })
	for i := calls; i < len(admitted); i++ {
		if gap := admitted[i].Sub(admitted[i-calls]); gap < window-clockSlack {
			t.Errorf("calls %d and %d are %s apart: %d calls within one %s window", i-calls, i, gap, calls+1, window)
		}
	}
}

func TestCallLimiterDeadline(t *testing.T) {
	l := NewCallLimiter(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestCallLimiterUnlimited(t *testing.T) {
	l := NewCallLimiter(0, time.Second)
	if l != nil || l.Wait(context.Background()) != nil || l.String() != "unlimited" {
		t.Errorf("zero calls per window means unlimited")
	}
}
