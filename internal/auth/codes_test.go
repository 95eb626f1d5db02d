package auth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashCode(t *testing.T) {
	h1 := hashCode("123456", "salt")
	h2 := hashCode("123456", "salt")
	assert.Equal(t, h1, h2, "hash should be deterministic")

	decoded, err := hex.DecodeString(h1)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	assert.NotEqual(t, h1, hashCode("654321", "salt"))
	assert.NotEqual(t, h1, hashCode("123456", "other-salt"))
}

func TestCodeStore_IssueReplacesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)
	second, err := env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, 1, env.codes.Len())

	_, err = env.codeStore.Verify(ctx, first.Code)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	got, err := env.codeStore.Verify(ctx, second.Code)
	require.NoError(t, err)
	assert.Equal(t, "89991234567", got.Phone)
}

func TestCodeStore_IssueTimestamps(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	code, err := env.codeStore.Issue(context.Background(), "89991234567")
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), code.ExpiresAt)
	assert.Equal(t, now.Add(3*time.Minute), code.CanSendAt)
}

func TestCodeStore_VerifyIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)

	_, err = env.codeStore.Verify(ctx, code.Code)
	require.NoError(t, err)
	_, err = env.codeStore.Verify(ctx, code.Code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeStore_VerifyExpiredDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)
	env.clock.Advance(10 * time.Minute)

	_, err = env.codeStore.Verify(ctx, code.Code)
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, 0, env.codes.Len())

	_, err = env.codeStore.Verify(ctx, code.Code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeStore_CanResend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.codeStore.CanResend(ctx, "89991234567")
	require.NoError(t, err)
	assert.True(t, ok, "no code yet")

	_, err = env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)

	ok, err = env.codeStore.CanResend(ctx, "89991234567")
	require.NoError(t, err)
	assert.False(t, ok, "inside cooldown")

	env.clock.Advance(3 * time.Minute)
	ok, err = env.codeStore.CanResend(ctx, "89991234567")
	require.NoError(t, err)
	assert.True(t, ok, "cooldown passed")
}

func TestCodeStore_SweepRemovesOnlyExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.codeStore.Issue(ctx, "89991234567")
	require.NoError(t, err)
	env.clock.Advance(5 * time.Minute)
	fresh, err := env.codeStore.Issue(ctx, "89997654321")
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	n, err := env.codeStore.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, env.codes.Len())

	_, err = env.codeStore.Verify(ctx, fresh.Code)
	assert.NoError(t, err)
}
