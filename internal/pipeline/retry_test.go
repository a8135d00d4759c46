package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/llm"
)

func TestRetryBudget_Next(t *testing.T) {
	contractErr := fmt.Errorf("validating: %w", &contract.ContractError{Kind: contract.MalformedJSON})

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
		wantRetry bool
	}{
		{"transport", &llm.InvocationError{Kind: llm.KindTransport}, 500 * time.Millisecond, true},
		{"rate limited without hint", &llm.InvocationError{Kind: llm.KindRateLimited}, 2 * time.Second, true},
		{"rate limited shorter hint", &llm.InvocationError{Kind: llm.KindRateLimited, RetryAfter: time.Second}, 2 * time.Second, true},
		{"rate limited longer hint", &llm.InvocationError{Kind: llm.KindRateLimited, RetryAfter: 7 * time.Second}, 7 * time.Second, true},
		{"rate limited hint capped", &llm.InvocationError{Kind: llm.KindRateLimited, RetryAfter: time.Minute}, MaxRetryAfter, true},
		{"auth", &llm.InvocationError{Kind: llm.KindAuth}, 0, false},
		{"rejected", &llm.InvocationError{Kind: llm.KindRejected}, 0, false},
		{"contract", contractErr, 0, true},
		{"canceled", context.Canceled, 0, false},
		{"unclassified", fmt.Errorf("boom"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := retryBudget{policy: DefaultRetryPolicy()}
			delay, retry := b.next(context.Background(), tt.err)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantDelay, delay)

			if retry {
				_, again := b.next(context.Background(), tt.err)
				assert.False(t, again, "budget allows a single retry")
			}
		})
	}
}

func TestRetryBudget_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := retryBudget{policy: DefaultRetryPolicy()}
	_, retry := b.next(ctx, &llm.InvocationError{Kind: llm.KindTransport})
	assert.False(t, retry)
}

func TestRetryBudget_ZeroPolicy(t *testing.T) {
	b := retryBudget{}
	_, retry := b.next(context.Background(), &llm.InvocationError{Kind: llm.KindTransport})
	assert.False(t, retry)
	_, retry = b.next(context.Background(), &contract.ContractError{Kind: contract.IncompleteChain})
	assert.False(t, retry)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
