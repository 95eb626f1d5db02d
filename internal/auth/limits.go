package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

const (
	defaultResends = 10
	limitWindow    = time.Hour
)

// ExhaustedError is returned when the resend quota of a phone is spent
type ExhaustedError struct {
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resend quota exhausted until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// RateLimiter gates the resend path with a per-phone quota whose window is
// independent of any single code's lifetime.
type RateLimiter struct {
	repo   repo.LimitRepo
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter with the default quota of 10 resends per hour
func NewRateLimiter(limitRepo repo.LimitRepo) *RateLimiter {
	return &RateLimiter{
		repo:   limitRepo,
		max:    defaultResends,
		window: limitWindow,
		now:    time.Now,
	}
}

// RegisterSend opens a quota window for the phone unless one is active.
func (l *RateLimiter) RegisterSend(ctx context.Context, phone string) (model.ResendLimit, error) {
	now := l.now()
	limit, err := l.repo.Register(ctx, model.ResendLimit{
		Phone:     phone,
		Remaining: l.max,
		ExpiresAt: now.Add(l.window),
	}, now)
	if err != nil {
		return model.ResendLimit{}, fmt.Errorf("register send: %w", err)
	}
	return limit, nil
}

// ConsumeResend takes one resend from the phone's quota and returns what is
// left. A phone whose window has lapsed gets a fresh one first.
func (l *RateLimiter) ConsumeResend(ctx context.Context, phone string) (int, error) {
	limit, ok, err := l.repo.Consume(ctx, phone, l.now())
	if errors.Is(err, repo.ErrNotFound) {
		if _, err := l.RegisterSend(ctx, phone); err != nil {
			return 0, err
		}
		limit, ok, err = l.repo.Consume(ctx, phone, l.now())
	}
	if err != nil {
		return 0, fmt.Errorf("consume resend: %w", err)
	}
	if !ok {
		return 0, &ExhaustedError{ResetAt: limit.ExpiresAt}
	}
	return limit.Remaining, nil
}

// Sweep deletes limits whose window has ended. A limit survives until its
// expiry and is removed from then on.
func (l *RateLimiter) Sweep(ctx context.Context) (int64, error) {
	return l.repo.DeleteExpired(ctx, l.now())
}
