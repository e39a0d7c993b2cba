package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spend struct {
	at     time.Time
	tokens int
}

// Budget paces requests against a tokens-per-minute ceiling using a sliding
// one-minute window. A nil Budget never waits.
type Budget struct {
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	entries []spend
}

// NewBudget returns nil for tpm <= 0, meaning unlimited.
func NewBudget(tpm int) *Budget {
	if tpm <= 0 {
		return nil
	}
	return &Budget{
		limit:  tpm,
		window: time.Minute,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Reserve blocks until tokens fit in the current window, then records them.
// A single request larger than the whole budget is let through once the
// window is empty.
func (b *Budget) Reserve(ctx context.Context, tokens int) error {
	if b == nil || tokens <= 0 {
		return nil
	}

	for {
		b.mu.Lock()
		now := b.now()
		b.pruneLocked(now)

		used := 0
		for _, e := range b.entries {
			used += e.tokens
		}
		if len(b.entries) == 0 || used+tokens <= b.limit {
			b.entries = append(b.entries, spend{at: now, tokens: tokens})
			b.mu.Unlock()
			return nil
		}

		wait := b.entries[0].at.Add(b.window).Sub(now)
		b.mu.Unlock()

		slog.Debug("Token budget exhausted, pacing request", "used", used, "requested", tokens, "limit", b.limit, "wait", wait)
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Used returns the tokens spent in the current window.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	used := 0
	for _, e := range b.entries {
		used += e.tokens
	}
	return used
}

func (b *Budget) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.entries) && !b.entries[i].at.After(cutoff) {
		i++
	}
	b.entries = b.entries[i:]
}
