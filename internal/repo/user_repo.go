package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nika/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	// CreateIfAbsent inserts u unless a user with the same phone exists.
	// It returns the stored user and whether this call created it.
	// A promocode collision is reported as ErrConflict.
	CreateIfAbsent(ctx context.Context, u model.User) (model.User, bool, error)
	SetName(ctx context.Context, id uuid.UUID, name string) (model.User, error)
	// SetGreeted moves the greeted flag from one value to another; false when
	// it did not hold from.
	SetGreeted(ctx context.Context, id uuid.UUID, from, to bool) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone, name, tariff, tariff_expire, balance, promocode, greeted, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var user model.User
	var name sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&name,
		&user.Tariff,
		&user.TariffExpire,
		&user.Balance,
		&user.Promocode,
		&user.Greeted,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	if name.Valid {
		user.Name = &name.String
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user by phone: %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// CreateIfAbsent inserts with ON CONFLICT (phone) DO NOTHING; RETURNING yields a row
// only when the insert happened, which is how a new account is detected.
func (r *userRepo) CreateIfAbsent(ctx context.Context, u model.User) (model.User, bool, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, phone, name, tariff, tariff_expire, balance, promocode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO NOTHING
		RETURNING `+userColumns,
		u.ID, u.Phone, u.Name, u.Tariff, u.TariffExpire, u.Balance, u.Promocode,
	))
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetByPhone(ctx, u.Phone)
		if err != nil {
			return model.User{}, false, err
		}
		return existing, false, nil
	case isUniqueViolation(err):
		return model.User{}, false, fmt.Errorf("insert user: %w", ErrConflict)
	default:
		return model.User{}, false, fmt.Errorf("failed to insert user: %w", err)
	}
}

// SetName updates the display name and returns the updated user
func (r *userRepo) SetName(ctx context.Context, id uuid.UUID, name string) (model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users SET name = $2 WHERE id = $1
		RETURNING `+userColumns, id, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to update user name: %w", err)
	}
	return user, nil
}

// SetGreeted is a compare-and-set so concurrent logins greet once
func (r *userRepo) SetGreeted(ctx context.Context, id uuid.UUID, from, to bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET greeted = $3 WHERE id = $1 AND greeted = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update greeted flag: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}
