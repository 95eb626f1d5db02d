package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nika/server/internal/model"
)

// OrderRepo defines the interface for the order and tariff tables read by the payment callback
type OrderRepo interface {
	GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error)
	// Transition moves the order from one status to another; false when it was not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	GetTariff(ctx context.Context, name string) (model.Tariff, error)
	// Settle marks a new order paid and extends its owner's tariff by
	// tariff.Duration, counted from the later of now and the current expiry.
	// Both happen in one transaction. ok is false when the order was not new.
	Settle(ctx context.Context, id uuid.UUID, tariff model.Tariff, now time.Time) (expire time.Time, ok bool, err error)
}

type orderRepo struct {
	db *sql.DB
}

// NewOrderRepo creates a new OrderRepo instance
func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

// GetOrder retrieves an order by ID
func (r *orderRepo) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	var o model.Order
	var promo sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, tariff, amount, promocode, status, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.Tariff, &o.Amount, &promo, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return model.Order{}, fmt.Errorf("query order: %w", err)
	}
	if promo.Valid {
		o.Promocode = &promo.String
	}
	return o, nil
}

// Transition is a compare-and-set on status so a retried callback is applied once
func (r *orderRepo) Transition(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// GetTariff retrieves a tariff by name
func (r *orderRepo) GetTariff(ctx context.Context, name string) (model.Tariff, error) {
	var t model.Tariff
	var days int
	err := r.db.QueryRowContext(ctx, `
		SELECT name, amount, duration_days FROM tariffs WHERE name = $1
	`, name).Scan(&t.Name, &t.Amount, &days)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Tariff{}, fmt.Errorf("tariff %q: %w", name, ErrNotFound)
		}
		return model.Tariff{}, fmt.Errorf("query tariff: %w", err)
	}
	t.Duration = time.Duration(days) * 24 * time.Hour
	return t, nil
}

// Settle locks the owner's row so concurrent settlements for one user stack
func (r *orderRepo) Settle(ctx context.Context, id uuid.UUID, tariff model.Tariff, now time.Time) (time.Time, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var owner uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE orders SET status = $3 WHERE id = $1 AND status = $2 RETURNING user_id
	`, id, model.OrderNew, model.OrderPaid).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("mark order paid: %w", err)
	}

	var current time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT tariff_expire FROM users WHERE id = $1 FOR UPDATE
	`, owner).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, fmt.Errorf("user %s: %w", owner, ErrNotFound)
		}
		return time.Time{}, false, fmt.Errorf("lock order owner: %w", err)
	}

	expire := ExtendTariff(current, now, tariff.Duration)
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET tariff = $2, tariff_expire = $3 WHERE id = $1
	`, owner, tariff.Name, expire)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("update tariff: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, false, fmt.Errorf("commit settle: %w", err)
	}
	return expire, true, nil
}

// ExtendTariff returns the expiry after adding d to a tariff that expires at
// current. An already lapsed tariff restarts at now.
func ExtendTariff(current, now time.Time, d time.Duration) time.Time {
	if current.After(now) {
		return current.Add(d)
	}
	return now.Add(d)
}
