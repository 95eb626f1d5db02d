package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nika/server/internal/model"
)

// OtpRepo defines the interface for one-time code persistence.
// Codes are stored as digests; callers pass the digest as codeHash.
type OtpRepo interface {
	// Replace removes any code for the phone and stores a new one.
	// A digest already held by another phone is reported as ErrConflict.
	Replace(ctx context.Context, phone, codeHash string, expiresAt, canSendAt time.Time) (model.OtpCode, error)
	GetByPhone(ctx context.Context, phone string) (model.OtpCode, error)
	// Take deletes the code with the given digest and returns it.
	Take(ctx context.Context, codeHash string) (model.OtpCode, error)
	DeleteByHash(ctx context.Context, codeHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Replace runs delete-then-insert in one transaction under a per-phone advisory lock
// so concurrent requests for the same phone serialize and the last writer wins.
func (r *otpRepo) Replace(ctx context.Context, phone, codeHash string, expiresAt, canSendAt time.Time) (model.OtpCode, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone = $1`, phone)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("delete previous code: %w", err)
	}

	code := model.OtpCode{Phone: phone, ExpiresAt: expiresAt, CanSendAt: canSendAt}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_codes (phone, code_hash, expires_at, can_send_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, phone, codeHash, expiresAt, canSendAt).Scan(&code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.OtpCode{}, fmt.Errorf("insert code: %w", ErrConflict)
		}
		return model.OtpCode{}, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.OtpCode{}, fmt.Errorf("commit: %w", err)
	}
	return code, nil
}

// GetByPhone returns the outstanding code for the phone, expired or not
func (r *otpRepo) GetByPhone(ctx context.Context, phone string) (model.OtpCode, error) {
	var code model.OtpCode
	err := r.db.QueryRowContext(ctx, `
		SELECT phone, expires_at, can_send_at, created_at
		FROM otp_codes WHERE phone = $1
	`, phone).Scan(&code.Phone, &code.ExpiresAt, &code.CanSendAt, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpCode{}, fmt.Errorf("code by phone: %w", ErrNotFound)
		}
		return model.OtpCode{}, fmt.Errorf("query code: %w", err)
	}
	return code, nil
}

// Take is a single DELETE ... RETURNING, so two concurrent takes of the same code
// cannot both succeed.
func (r *otpRepo) Take(ctx context.Context, codeHash string) (model.OtpCode, error) {
	var code model.OtpCode
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM otp_codes WHERE code_hash = $1
		RETURNING phone, expires_at, can_send_at, created_at
	`, codeHash).Scan(&code.Phone, &code.ExpiresAt, &code.CanSendAt, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpCode{}, fmt.Errorf("take code: %w", ErrNotFound)
		}
		return model.OtpCode{}, fmt.Errorf("take code: %w", err)
	}
	return code, nil
}

// DeleteByHash removes a code without returning it
func (r *otpRepo) DeleteByHash(ctx context.Context, codeHash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE code_hash = $1`, codeHash); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return nil
}

// DeleteExpired removes every code whose expiry is at or before now
func (r *otpRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
