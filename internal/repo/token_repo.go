package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nika/server/internal/model"
)

// TokenRepo defines the interface for persisted token pairs
type TokenRepo interface {
	// Create stores a pair; ErrConflict when the user already has one.
	Create(ctx context.Context, pair model.TokenPair) error
	FindByUser(ctx context.Context, userID uuid.UUID) (model.TokenPair, error)
	FindByAccess(ctx context.Context, accessToken string) (model.TokenPair, error)
	FindByRefresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	// Rotate deletes the pair holding refreshToken and stores next in one transaction.
	// ErrNotFound when no pair holds refreshToken.
	Rotate(ctx context.Context, refreshToken string, next model.TokenPair) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type tokenRepo struct {
	db *sql.DB
}

// NewTokenRepo creates a new TokenRepo instance
func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db}
}

const tokenColumns = `user_id, access_token, access_expire, refresh_token, refresh_expire, created_at`

func scanTokenPair(row interface{ Scan(...any) error }) (model.TokenPair, error) {
	var pair model.TokenPair
	err := row.Scan(
		&pair.UserID,
		&pair.AccessToken,
		&pair.AccessExpire,
		&pair.RefreshToken,
		&pair.RefreshExpire,
		&pair.CreatedAt,
	)
	return pair, err
}

// Create inserts a new token pair
func (r *tokenRepo) Create(ctx context.Context, pair model.TokenPair) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_pairs (user_id, access_token, access_expire, refresh_token, refresh_expire)
		VALUES ($1, $2, $3, $4, $5)
	`, pair.UserID, pair.AccessToken, pair.AccessExpire, pair.RefreshToken, pair.RefreshExpire)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert token pair: %w", ErrConflict)
		}
		return fmt.Errorf("insert token pair: %w", err)
	}
	return nil
}

func (r *tokenRepo) findOne(ctx context.Context, where string, arg any) (model.TokenPair, error) {
	pair, err := scanTokenPair(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM token_pairs WHERE `+where+` = $1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TokenPair{}, fmt.Errorf("token pair: %w", ErrNotFound)
		}
		return model.TokenPair{}, fmt.Errorf("find token pair: %w", err)
	}
	return pair, nil
}

// FindByUser returns the pair owned by the user
func (r *tokenRepo) FindByUser(ctx context.Context, userID uuid.UUID) (model.TokenPair, error) {
	return r.findOne(ctx, "user_id", userID)
}

// FindByAccess returns the pair whose access token matches exactly
func (r *tokenRepo) FindByAccess(ctx context.Context, accessToken string) (model.TokenPair, error) {
	return r.findOne(ctx, "access_token", accessToken)
}

// FindByRefresh returns the pair whose refresh token matches exactly
func (r *tokenRepo) FindByRefresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	return r.findOne(ctx, "refresh_token", refreshToken)
}

// Rotate is delete-then-create inside one transaction: a failure before commit
// leaves the old pair, a failure after it cannot leave two.
func (r *tokenRepo) Rotate(ctx context.Context, refreshToken string, next model.TokenPair) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var owner uuid.UUID
	err = tx.QueryRowContext(ctx, `
		DELETE FROM token_pairs WHERE refresh_token = $1 RETURNING user_id
	`, refreshToken).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rotate: %w", ErrNotFound)
		}
		return fmt.Errorf("delete token pair: %w", err)
	}
	if owner != next.UserID {
		return fmt.Errorf("rotate: refresh token belongs to another user: %w", ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_pairs (user_id, access_token, access_expire, refresh_token, refresh_expire)
		VALUES ($1, $2, $3, $4, $5)
	`, next.UserID, next.AccessToken, next.AccessExpire, next.RefreshToken, next.RefreshExpire)
	if err != nil {
		return fmt.Errorf("insert rotated pair: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteByUser removes the user's pair if any
func (r *tokenRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM token_pairs WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete token pair: %w", err)
	}
	return nil
}
