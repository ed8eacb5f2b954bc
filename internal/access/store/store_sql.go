package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relaygate/internal/access/models"
	"relaygate/internal/platform/database"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/tx"
)

// SQLStore persists users in the users table (sqlite3 or PostgreSQL).
type SQLStore struct {
	db    *sql.DB
	retry *database.Retrier
}

func NewSQL(db *sql.DB, retrier *database.Retrier) *SQLStore {
	return &SQLStore{db: db, retry: retrier}
}

const userColumns = `user_id, state, attempts, challenge_answer, challenge_expires_at,
	ban_reason, ban_notice_message_id, lockout_notified,
	username, full_name, language_code, is_premium,
	first_seen_at, last_activity_at, updated_at`

func (s *SQLStore) Get(ctx context.Context, id domain.UserID) (*models.User, error) {
	var u *models.User
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE user_id = $1`, id.Int64())
		var err error
		u, err = scanUser(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Save upserts the full record.
func (s *SQLStore) Save(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			challenge_answer = EXCLUDED.challenge_answer,
			challenge_expires_at = EXCLUDED.challenge_expires_at,
			ban_reason = EXCLUDED.ban_reason,
			ban_notice_message_id = EXCLUDED.ban_notice_message_id,
			lockout_notified = EXCLUDED.lockout_notified,
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			language_code = EXCLUDED.language_code,
			is_premium = EXCLUDED.is_premium,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at = EXCLUDED.updated_at
	`
	var expires sql.NullTime
	if u.ChallengeExpiresAt != nil {
		expires = sql.NullTime{Time: u.ChallengeExpiresAt.UTC(), Valid: true}
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx, query,
			u.ID.Int64(),
			string(u.State),
			u.Attempts,
			u.ChallengeAnswer,
			expires,
			string(u.BanReason),
			int64(u.BanNoticeMessageID),
			u.LockoutNotified,
			u.Profile.Username,
			u.Profile.FullName,
			u.Profile.LanguageCode,
			u.Profile.IsPremium,
			u.FirstSeenAt.UTC(),
			u.LastActivityAt.UTC(),
			u.UpdatedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *SQLStore) CountByState(ctx context.Context) (map[models.State]int, error) {
	counts := make(map[models.State]int, 3)
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		clear(counts)
		rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `SELECT state, COUNT(*) FROM users GROUP BY state`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var state string
			var n int
			if err := rows.Scan(&state, &n); err != nil {
				return err
			}
			counts[models.State(state)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("count users by state: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u       models.User
		state   string
		reason  string
		notice  int64
		expires sql.NullTime
		userID  int64
	)
	if err := row.Scan(
		&userID, &state, &u.Attempts, &u.ChallengeAnswer, &expires,
		&reason, &notice, &u.LockoutNotified,
		&u.Profile.Username, &u.Profile.FullName, &u.Profile.LanguageCode, &u.Profile.IsPremium,
		&u.FirstSeenAt, &u.LastActivityAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.ID = domain.UserID(userID)
	u.State = models.State(state)
	u.BanReason = models.BanReason(reason)
	u.BanNoticeMessageID = domain.MessageID(notice)
	if expires.Valid {
		t := expires.Time.UTC()
		u.ChallengeExpiresAt = &t
	}
	u.FirstSeenAt = u.FirstSeenAt.UTC()
	u.LastActivityAt = u.LastActivityAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
