package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2.0
	MaxBackoff         = 60 * time.Second
	jitterFraction     = 0.25
)

// Info describes one rate-limited response.
type Info struct {
	RetryAfter        *time.Duration
	RemainingRequests *int64
	ResetTime         *int64
	Provider          string
	Attempt           int
	Message           string
}

type Config struct {
	Provider    string
	MaxRetries  int
	BackoffBase float64
}

// Handler decides whether and how long to wait before retrying a rate-limited call.
type Handler struct {
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

type Option func(*Handler)

// WithSleep replaces the context-aware sleep, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = fn }
}

// WithJitter replaces the [0,1) random source used for jitter.
func WithJitter(fn func() float64) Option {
	return func(h *Handler) { h.jitter = fn }
}

func New(cfg Config, opts ...Option) *Handler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	h := &Handler{
		cfg:    cfg,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) MaxRetries() int {
	return h.cfg.MaxRetries
}

// ShouldRetry reports whether attempt (zero-based) may be followed by another try.
func (h *Handler) ShouldRetry(attempt int) bool {
	return attempt < h.cfg.MaxRetries
}

// BackoffDelay is 1s for attempt 0, otherwise base^attempt seconds with ±25%
// jitter, capped at 60s.
func (h *Handler) BackoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}

	seconds := math.Pow(h.cfg.BackoffBase, float64(attempt))
	seconds += seconds * jitterFraction * (2*h.jitter() - 1)

	if seconds >= MaxBackoff.Seconds() || math.IsNaN(seconds) {
		return MaxBackoff
	}
	return time.Duration(seconds * float64(time.Second))
}

// Handle waits before the next attempt, or returns a RateLimitError once the
// retry budget is spent. Retry-After wins over computed backoff.
func (h *Handler) Handle(ctx context.Context, info Info) error {
	provider := info.Provider
	if provider == "" {
		provider = h.cfg.Provider
	}

	if !h.ShouldRetry(info.Attempt) {
		rlErr := &cosmoErrors.RateLimitError{
			Provider: provider,
			Attempts: info.Attempt + 1,
			Message:  info.Message,
		}
		if info.RetryAfter != nil {
			rlErr.RetryAfter = *info.RetryAfter
		}
		return rlErr
	}

	delay := h.BackoffDelay(info.Attempt)
	if info.RetryAfter != nil {
		delay = *info.RetryAfter
	}

	slog.Warn("Rate limited, backing off",
		"provider", provider,
		"attempt", info.Attempt+1,
		"max_retries", h.cfg.MaxRetries,
		"delay", delay)

	return h.sleep(ctx, delay)
}

// Classifier inspects an error and returns rate-limit info when the error is a rate limit.
type Classifier func(err error) (Info, bool)

// Do runs fn, retrying rate-limited failures under this handler's policy.
// Other failures are returned unchanged.
func (h *Handler) Do(ctx context.Context, classify Classifier, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		info, limited := classify(err)
		if !limited {
			return err
		}
		info.Attempt = attempt
		if info.Message == "" {
			info.Message = err.Error()
		}

		if herr := h.Handle(ctx, info); herr != nil {
			return herr
		}
	}
}

// IsRateLimitStatus reports whether an HTTP status code signals a rate limit.
func IsRateLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests
}

// ParseRetryAfter accepts integer seconds or an HTTP date in the future.
func ParseRetryAfter(value string) (time.Duration, bool) {
	return parseRetryAfterAt(value, time.Now())
}

func parseRetryAfterAt(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseUint(value, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait.Truncate(time.Second), true
		}
	}
	return 0, false
}

// ExtractInfo reads retry-after and x-ratelimit-* headers.
func ExtractInfo(header http.Header, provider string, attempt int) Info {
	info := Info{Provider: provider, Attempt: attempt}
	if header == nil {
		return info
	}

	if d, ok := ParseRetryAfter(header.Get("Retry-After")); ok {
		info.RetryAfter = &d
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(header.Get("X-Ratelimit-Remaining")), 10, 64); err == nil {
		info.RemainingRequests = &v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(header.Get("X-Ratelimit-Reset")), 10, 64); err == nil {
		info.ResetTime = &v
	}
	return info
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
