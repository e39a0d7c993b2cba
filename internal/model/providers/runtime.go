package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/cosmo/internal/config"
	"github.com/harunnryd/cosmo/internal/contextwindow"
	"github.com/harunnryd/cosmo/internal/model/contract"
	"github.com/harunnryd/cosmo/internal/model/ratelimit"
)

// Runtime carries the per-profile call policy shared by every backend:
// request timeout, rate-limit retries and tokens-per-minute pacing.
type Runtime struct {
	Backend string
	Profile config.ModelProfile
	Limiter *ratelimit.Handler
	Budget  *ratelimit.Budget
	Timeout time.Duration
}

func NewRuntime(profile config.ModelProfile, opts ...ratelimit.Option) (*Runtime, error) {
	timeout, err := profile.RequestTimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("profile request_timeout: %w", err)
	}

	return &Runtime{
		Backend: profile.Backend,
		Profile: profile,
		Limiter: ratelimit.New(ratelimit.Config{
			Provider:    profile.Backend,
			MaxRetries:  profile.MaxRetries,
			BackoffBase: profile.RetryBackoffBase,
		}, opts...),
		Budget:  ratelimit.NewBudget(profile.RateLimitTPM),
		Timeout: timeout,
	}, nil
}

// Call reserves budget for the request, counting the prompt and the output
// cap opts allows, then runs fn under the retry policy with each attempt
// bounded by the request timeout.
func (r *Runtime) Call(ctx context.Context, messages []contract.Message, opts contract.SendOptions, classify ratelimit.Classifier, fn func(ctx context.Context) error) error {
	estimate := r.Estimate(messages, opts)
	if err := r.Budget.Reserve(ctx, estimate); err != nil {
		return err
	}

	return r.Limiter.Do(ctx, classify, func(ctx context.Context) error {
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// Estimate is the token budget a request may consume.
func (r *Runtime) Estimate(messages []contract.Message, opts contract.SendOptions) int {
	return contextwindow.EstimateMessagesTokens(messages) + r.MaxTokens(opts)
}

func (r *Runtime) Temperature(opts contract.SendOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return r.Profile.Temperature
}

func (r *Runtime) MaxTokens(opts contract.SendOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	if r.Profile.MaxTokens > 0 {
		return r.Profile.MaxTokens
	}
	return config.DefaultMaxTokens
}

// SplitSystem separates system messages (joined) from the rest, for backends
// that take the system prompt out of band.
func SplitSystem(messages []contract.Message) (string, []contract.Message) {
	var system string
	rest := make([]contract.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == contract.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// ToolNames maps tool call ids to tool names across the history.
func ToolNames(messages []contract.Message) map[string]string {
	names := make(map[string]string)
	for _, m := range messages {
		for _, call := range m.ToolCalls {
			names[call.ID] = call.Name
		}
	}
	return names
}
