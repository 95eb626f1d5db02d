package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nika/server/internal/model"
)

// LimitRepo defines the interface for per-phone resend quota persistence
type LimitRepo interface {
	// Register stores a fresh limit unless an unexpired one exists for the phone.
	// It returns the limit in effect after the call.
	Register(ctx context.Context, limit model.ResendLimit, now time.Time) (model.ResendLimit, error)
	// Consume atomically decrements the unexpired limit for the phone when it is
	// above zero. ok is false when the quota is already spent. ErrNotFound is
	// returned when no unexpired limit exists.
	Consume(ctx context.Context, phone string, now time.Time) (limit model.ResendLimit, ok bool, err error)
	Get(ctx context.Context, phone string) (model.ResendLimit, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type limitRepo struct {
	db *sql.DB
}

// NewLimitRepo creates a new LimitRepo instance
func NewLimitRepo(db *sql.DB) LimitRepo {
	return &limitRepo{db: db}
}

// Register only overwrites a row whose window has already ended, so a second
// initial send inside an active window keeps the remaining count.
func (r *limitRepo) Register(ctx context.Context, limit model.ResendLimit, now time.Time) (model.ResendLimit, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resend_limits (phone, remaining, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE
		SET remaining = EXCLUDED.remaining, expires_at = EXCLUDED.expires_at
		WHERE resend_limits.expires_at <= $4
	`, limit.Phone, limit.Remaining, limit.ExpiresAt, now)
	if err != nil {
		return model.ResendLimit{}, fmt.Errorf("register limit: %w", err)
	}
	return r.Get(ctx, limit.Phone)
}

// Consume decrements in a single UPDATE guarded by remaining > 0, so concurrent
// consumers never lose an update or drive the counter negative.
func (r *limitRepo) Consume(ctx context.Context, phone string, now time.Time) (model.ResendLimit, bool, error) {
	limit := model.ResendLimit{Phone: phone}
	err := r.db.QueryRowContext(ctx, `
		UPDATE resend_limits SET remaining = remaining - 1
		WHERE phone = $1 AND expires_at > $2 AND remaining > 0
		RETURNING remaining, expires_at
	`, phone, now).Scan(&limit.Remaining, &limit.ExpiresAt)
	if err == nil {
		return limit, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.ResendLimit{}, false, fmt.Errorf("consume limit: %w", err)
	}

	current, err := r.Get(ctx, phone)
	if err != nil {
		return model.ResendLimit{}, false, err
	}
	if !current.ExpiresAt.After(now) {
		return model.ResendLimit{}, false, fmt.Errorf("limit for phone: %w", ErrNotFound)
	}
	return current, false, nil
}

// Get returns the stored limit for the phone
func (r *limitRepo) Get(ctx context.Context, phone string) (model.ResendLimit, error) {
	limit := model.ResendLimit{Phone: phone}
	err := r.db.QueryRowContext(ctx, `
		SELECT remaining, expires_at FROM resend_limits WHERE phone = $1
	`, phone).Scan(&limit.Remaining, &limit.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ResendLimit{}, fmt.Errorf("limit for phone: %w", ErrNotFound)
		}
		return model.ResendLimit{}, fmt.Errorf("query limit: %w", err)
	}
	return limit, nil
}

// DeleteExpired removes limits whose window ended at or before now
func (r *limitRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resend_limits WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired limits: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
