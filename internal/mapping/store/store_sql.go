package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relaygate/internal/mapping/models"
	"relaygate/internal/platform/database"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/tx"
)

// SQLStore persists mappings in message_mappings. Uniqueness of active
// sources comes from the partial unique index, not from a lock.
type SQLStore struct {
	db    *sql.DB
	retry *database.Retrier
}

func NewSQL(db *sql.DB, retrier *database.Retrier) *SQLStore {
	return &SQLStore{db: db, retry: retrier}
}

const mappingColumns = `id, user_id,
	source_side, source_chat_id, source_msg_id,
	dest_side, dest_chat_id, dest_msg_id,
	direction, spam, reason, created_at, retracted_at`

// matchEither selects rows where the endpoint bound at $n, $n+1, $n+2 is the
// source or the destination.
func matchEither(n int) string {
	return fmt.Sprintf(`((source_side = $%[1]d AND source_chat_id = $%[2]d AND source_msg_id = $%[3]d)
	OR (dest_side = $%[1]d AND dest_chat_id = $%[2]d AND dest_msg_id = $%[3]d))`, n, n+1, n+2)
}

func (s *SQLStore) Record(ctx context.Context, m *models.Mapping) error {
	var retracted sql.NullTime
	if m.RetractedAt != nil {
		retracted = sql.NullTime{Time: m.RetractedAt.UTC(), Valid: true}
	}
	var affected int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			INSERT INTO message_mappings (`+mappingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT DO NOTHING`,
			m.ID.String(), m.UserID.Int64(),
			string(m.Source.Side), int64(m.Source.Chat), int64(m.Source.Message),
			string(m.Dest.Side), int64(m.Dest.Chat), int64(m.Dest.Message),
			string(m.Direction), m.Spam, m.Reason, m.CreatedAt.UTC(), retracted,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("record mapping: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateActiveMapping
	}
	return nil
}

func (s *SQLStore) queryOne(ctx context.Context, op, query string, args ...any) (*models.Mapping, error) {
	var m *models.Mapping
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		m, err = scanMapping(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *SQLStore) Lookup(ctx context.Context, source domain.Endpoint) (*models.Mapping, error) {
	return s.queryOne(ctx, "lookup mapping", `
		SELECT `+mappingColumns+` FROM message_mappings
		WHERE source_side = $1 AND source_chat_id = $2 AND source_msg_id = $3
		  AND retracted_at IS NULL`,
		string(source.Side), int64(source.Chat), int64(source.Message))
}

func (s *SQLStore) Resolve(ctx context.Context, e domain.Endpoint) (*models.Mapping, error) {
	return s.queryOne(ctx, "resolve mapping", `
		SELECT `+mappingColumns+` FROM message_mappings
		WHERE retracted_at IS NULL AND `+matchEither(1)+`
		ORDER BY created_at DESC LIMIT 1`,
		string(e.Side), int64(e.Chat), int64(e.Message))
}

func (s *SQLStore) Retract(ctx context.Context, e domain.Endpoint, at time.Time) (*models.Mapping, error) {
	var m *models.Mapping
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		var err error
		m, err = s.queryOne(ctx, "retract mapping", `
			UPDATE message_mappings SET retracted_at = $1
			WHERE retracted_at IS NULL AND `+matchEither(2)+`
			RETURNING `+mappingColumns,
			at.UTC(), string(e.Side), int64(e.Chat), int64(e.Message))
		if !errors.Is(err, ErrMappingNotFound) {
			return err
		}

		var n int
		err = tx.Exec(ctx, s.db).QueryRowContext(ctx, `
			SELECT COUNT(*) FROM message_mappings WHERE `+matchEither(1),
			string(e.Side), int64(e.Chat), int64(e.Message)).Scan(&n)
		if err != nil {
			return fmt.Errorf("retract mapping: %w", err)
		}
		if n > 0 {
			return ErrAlreadyRetracted
		}
		return ErrMappingNotFound
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PurgeOlderThan deletes retracted mappings and those created before cutoff.
func (s *SQLStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
			`DELETE FROM message_mappings WHERE retracted_at IS NOT NULL OR created_at < $1`, cutoff.UTC())
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge mappings: %w", err)
	}
	return purged, nil
}

func (s *SQLStore) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return tx.Exec(ctx, s.db).QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(CASE WHEN retracted_at IS NULL THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN spam THEN 1 ELSE 0 END), 0)
			FROM message_mappings`).Scan(&st.Total, &st.Active, &st.Spam)
	})
	if err != nil {
		return models.Stats{}, fmt.Errorf("mapping stats: %w", err)
	}
	return st, nil
}

func scanMapping(row interface{ Scan(...any) error }) (*models.Mapping, error) {
	var (
		m                     models.Mapping
		id                    string
		userID                int64
		srcSide, dstSide, dir string
		srcChat, srcMsg       int64
		dstChat, dstMsg       int64
		retracted             sql.NullTime
	)
	if err := row.Scan(&id, &userID,
		&srcSide, &srcChat, &srcMsg,
		&dstSide, &dstChat, &dstMsg,
		&dir, &m.Spam, &m.Reason, &m.CreatedAt, &retracted,
	); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("mapping id %q: %w", id, err)
	}
	m.ID = parsed
	m.UserID = domain.UserID(userID)
	m.Source = domain.Endpoint{Side: domain.Side(srcSide), Chat: domain.ChatID(srcChat), Message: domain.MessageID(srcMsg)}
	m.Dest = domain.Endpoint{Side: domain.Side(dstSide), Chat: domain.ChatID(dstChat), Message: domain.MessageID(dstMsg)}
	m.Direction = models.Direction(dir)
	m.CreatedAt = m.CreatedAt.UTC()
	if retracted.Valid {
		t := retracted.Time.UTC()
		m.RetractedAt = &t
	}
	return &m, nil
}
