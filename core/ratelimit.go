package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateWindow is the window max_calls_per_minute is measured over.
const DefaultRateWindow = time.Minute

// CallLimiter caps the calls one agent makes across every run in the process.
// Calls take callsPerWindow slots in turn and each slot admits one call per
// window, so any window holds at most callsPerWindow calls and call N+1 waits
// until the window opened by call 1 has passed.
type CallLimiter struct {
	slots  []*rate.Limiter
	next   atomic.Uint64
	calls  int
	window time.Duration
}

// NewCallLimiter returns nil (unlimited) when callsPerWindow is zero.
func NewCallLimiter(callsPerWindow int, window time.Duration) *CallLimiter {
	if callsPerWindow <= 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	slots := make([]*rate.Limiter, callsPerWindow)
	for i := range slots {
		slots[i] = rate.NewLimiter(rate.Every(window), 1)
	}
	return &CallLimiter{slots: slots, calls: callsPerWindow, window: window}
}

// Wait blocks until a call may proceed. It fails with ErrRateLimitExceeded
// only when ctx ends (or its deadline cannot be met) before a slot opens.
func (l *CallLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	slot := l.slots[(l.next.Add(1)-1)%uint64(len(l.slots))]
	if err := slot.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %d calls per %s: %v", ErrRateLimitExceeded, l.calls, l.window, err)
	}
	return nil
}

func (l *CallLimiter) String() string {
	if l == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d calls per %s", l.calls, l.window)
}
