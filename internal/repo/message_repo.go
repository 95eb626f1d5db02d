package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nika/server/internal/model"
)

// MessageRepo defines the interface for the conversation log
type MessageRepo interface {
	// Append stores messages in order within one transaction.
	Append(ctx context.Context, msgs ...model.Message) ([]model.Message, error)
	// List returns the user's messages oldest first, skipping offset and
	// returning at most limit rows (limit <= 0 means no limit).
	List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]model.Message, error)
	LatestByRole(ctx context.Context, userID uuid.UUID, role string) (model.Message, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

// Append inserts the messages; seq preserves insertion order when timestamps tie
func (r *messageRepo) Append(ctx context.Context, msgs ...model.Message) ([]model.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stored := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, user_id, role, content)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, m.ID, m.UserID, m.Role, m.Content).Scan(&m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		stored = append(stored, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// List returns a window of the user's log in insertion order
func (r *messageRepo) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]model.Message, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, created_at
		FROM messages WHERE user_id = $1
		ORDER BY seq ASC
		OFFSET $2 LIMIT $3
	`, userID, offset, lim)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// LatestByRole returns the most recent message of the given role
func (r *messageRepo) LatestByRole(ctx context.Context, userID uuid.UUID, role string) (model.Message, error) {
	var m model.Message
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, role, content, created_at
		FROM messages WHERE user_id = $1 AND role = $2
		ORDER BY seq DESC LIMIT 1
	`, userID, role).Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, fmt.Errorf("latest %s message: %w", role, ErrNotFound)
		}
		return model.Message{}, fmt.Errorf("query latest message: %w", err)
	}
	return m, nil
}

// Delete removes one of the user's messages
func (r *messageRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}
