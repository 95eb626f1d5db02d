package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_EleventhResendExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "89991234567"

	registered, err := env.limiter.RegisterSend(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 10, registered.Remaining)

	for i := 1; i <= 10; i++ {
		env.clock.Advance(time.Minute)
		remaining, err := env.limiter.ConsumeResend(ctx, phone)
		require.NoError(t, err, "resend %d", i)
		assert.Equal(t, 10-i, remaining)
	}

	_, err = env.limiter.ConsumeResend(ctx, phone)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, registered.ExpiresAt, exhausted.ResetAt)

	limit, err := env.limits.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 0, limit.Remaining, "never below zero")
}

func TestRateLimiter_ConcurrentResendsLoseNoUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "89991234567"

	_, err := env.limiter.RegisterSend(ctx, phone)
	require.NoError(t, err)

	const attempts = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   int
		exhausted int
		other     []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.limiter.ConsumeResend(ctx, phone)
			var ex *ExhaustedError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.As(err, &ex):
				exhausted++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 10, granted)
	assert.Equal(t, attempts-10, exhausted)

	limit, err := env.limits.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 0, limit.Remaining)
}

func TestRateLimiter_RegisterDoesNotResetActiveWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "89991234567"

	first, err := env.limiter.RegisterSend(ctx, phone)
	require.NoError(t, err)
	_, err = env.limiter.ConsumeResend(ctx, phone)
	require.NoError(t, err)

	env.clock.Advance(10 * time.Minute)
	second, err := env.limiter.RegisterSend(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, 9, second.Remaining)
}

func TestRateLimiter_NewWindowAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "89991234567"

	_, err := env.limiter.RegisterSend(ctx, phone)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := env.limiter.ConsumeResend(ctx, phone)
		require.NoError(t, err)
	}

	env.clock.Advance(time.Hour)
	remaining, err := env.limiter.ConsumeResend(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

func TestRateLimiter_ConsumeWithoutWindowOpensOne(t *testing.T) {
	env := newTestEnv(t)

	remaining, err := env.limiter.ConsumeResend(context.Background(), "89991234567")
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

// Limits must survive until they expire and be removed from then on; the
// comparison is expires_at <= now, never the inverse.
func TestRateLimiter_SweepKeepsUnexpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.limiter.RegisterSend(ctx, "89991234567")
	require.NoError(t, err)
	env.clock.Advance(30 * time.Minute)
	_, err = env.limiter.RegisterSend(ctx, "89997654321")
	require.NoError(t, err)

	n, err := env.limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has expired yet")

	env.clock.Advance(30 * time.Minute)
	n, err = env.limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.limits.Get(ctx, "89991234567")
	assert.Error(t, err)
	_, err = env.limits.Get(ctx, "89997654321")
	assert.NoError(t, err)
}
