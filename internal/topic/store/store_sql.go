package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relaygate/internal/platform/database"
	"relaygate/internal/topic/models"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/tx"
)

// SQLStore persists topics in the topics table.
type SQLStore struct {
	db    *sql.DB
	retry *database.Retrier
}

func NewSQL(db *sql.DB, retrier *database.Retrier) *SQLStore {
	return &SQLStore{db: db, retry: retrier}
}

const topicColumns = `topic_id, user_id, title, spam_holding, created_at`

func (s *SQLStore) get(ctx context.Context, op, where string, args ...any) (*models.Topic, error) {
	var t *models.Topic
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE `+where, args...)
		var err error
		t, err = scanTopic(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *SQLStore) GetByUser(ctx context.Context, user domain.UserID) (*models.Topic, error) {
	return s.get(ctx, "get topic by user", `user_id = $1`, user.Int64())
}

func (s *SQLStore) GetByID(ctx context.Context, id domain.TopicID) (*models.Topic, error) {
	return s.get(ctx, "get topic", `topic_id = $1`, int64(id))
}

func (s *SQLStore) GetSpamHolding(ctx context.Context) (*models.Topic, error) {
	return s.get(ctx, "get spam topic", `spam_holding = TRUE`)
}

// Create inserts t. A row that collides on any unique index is left alone
// and Create reports false; the caller re-reads the winner.
func (s *SQLStore) Create(ctx context.Context, t *models.Topic) (bool, error) {
	var owner sql.NullInt64
	if t.HasOwner() {
		owner = sql.NullInt64{Int64: t.UserID.Int64(), Valid: true}
	}
	var affected int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			INSERT INTO topics (`+topicColumns+`)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING`,
			int64(t.ID), owner, t.Title, t.SpamHolding, t.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("create topic: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) Delete(ctx context.Context, id domain.TopicID) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM topics WHERE topic_id = $1`, int64(id))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count topics: %w", err)
	}
	return n, nil
}

func scanTopic(row interface{ Scan(...any) error }) (*models.Topic, error) {
	var (
		t     models.Topic
		id    int64
		owner sql.NullInt64
	)
	if err := row.Scan(&id, &owner, &t.Title, &t.SpamHolding, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.ID = domain.TopicID(id)
	if owner.Valid {
		t.UserID = domain.UserID(owner.Int64)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
