package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/alexanderramin/defectlens/internal/llm"
)

// MaxRetryAfter caps how long a provider's Retry-After hint can delay a retry.
const MaxRetryAfter = 10 * time.Second

// RetryPolicy bounds retries for a single stage. Budgets are per stage and
// per failure class; a stage that recovers never re-runs earlier stages.
type RetryPolicy struct {
	ContractRetries  int           `mapstructure:"contract_retries"`
	TransientRetries int           `mapstructure:"transient_retries"`
	TransportBackoff time.Duration `mapstructure:"transport_backoff"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
}

// DefaultRetryPolicy returns one retry for contract failures and one for
// transport or rate-limit failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ContractRetries:  1,
		TransientRetries: 1,
		TransportBackoff: 500 * time.Millisecond,
		RateLimitBackoff: 2 * time.Second,
	}
}

// retryBudget tracks what a single stage has spent.
type retryBudget struct {
	policy    RetryPolicy
	contract  int
	transient int
}

// next decides whether err earns another attempt and how long to wait first.
func (b *retryBudget) next(ctx context.Context, err error) (time.Duration, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var ie *llm.InvocationError
	if errors.As(err, &ie) {
		if !ie.Transient() || b.transient >= b.policy.TransientRetries {
			return 0, false
		}
		b.transient++
		if ie.Kind == llm.KindRateLimited {
			return min(max(b.policy.RateLimitBackoff, ie.RetryAfter), MaxRetryAfter), true
		}
		return b.policy.TransportBackoff, true
	}

	if isContract(err) {
		if b.contract >= b.policy.ContractRetries {
			return 0, false
		}
		b.contract++
		return 0, true
	}
	return 0, false
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
