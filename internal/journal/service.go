package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/logger"
)

// Service is the append-only alarm journal. Writes that fail are spooled to
// disk and replayed later.
type Service struct {
	DB    *sql.DB
	Spool *Spool
}

func NewService(db *sql.DB, spool *Spool) *Service {
	return &Service{DB: db, Spool: spool}
}

func (s *Service) Name() string { return "journal" }

// Publish implements alarms.Publisher.
func (s *Service) Publish(ctx context.Context, env alarms.Envelope) error {
	return s.WriteEntry(ctx, env)
}

func (s *Service) insert(ctx context.Context, env alarms.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alarm_journal (
			event_id, camera_id, identity, kind, active, reason,
			event_type, severity, payload, occurred_at, emitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.DB.ExecContext(ctx, query,
		env.EventID, env.CameraID, env.Identity, env.Kind, env.Active, string(env.Reason),
		env.EventType, env.Severity, payload, env.OccurredAt, env.EmittedAt,
	)
	return err
}

// WriteEntry inserts env, spooling it when the database is unavailable.
func (s *Service) WriteEntry(ctx context.Context, env alarms.Envelope) error {
	if env.EventID == uuid.Nil {
		env.EventID = uuid.New()
	}

	err := s.insert(ctx, env)
	if err == nil {
		return nil
	}
	if s.Spool == nil {
		return fmt.Errorf("journal insert: %w", err)
	}

	logger.WarnKV(ctx, "journal write failed, spooling", "event_id", env.EventID, "err", err)
	if spoolErr := s.Spool.Append(env); spoolErr != nil {
		logger.ErrorKV(ctx, "journal spool failed", "event_id", env.EventID, "err", spoolErr)
		return fmt.Errorf("journal critical failure: %w", spoolErr)
	}
	return nil
}

// Query returns journal entries, newest first, and the cursor of the next page.
func (s *Service) Query(ctx context.Context, f Filter) ([]alarms.Envelope, int64, error) {
	q := `SELECT id, payload FROM alarm_journal WHERE camera_id = $1`
	args := []any{f.CameraID}
	idx := 2

	if f.Identity != "" {
		q += fmt.Sprintf(" AND identity = $%d", idx)
		args = append(args, f.Identity)
		idx++
	}
	if f.Active != nil {
		q += fmt.Sprintf(" AND active = $%d", idx)
		args = append(args, *f.Active)
		idx++
	}
	if f.Since != nil {
		q += fmt.Sprintf(" AND emitted_at >= $%d", idx)
		args = append(args, *f.Since)
		idx++
	}
	if f.Cursor > 0 {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []alarms.Envelope
	var lastID int64
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, 0, err
		}
		var env alarms.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, 0, fmt.Errorf("decode journal row %d: %w", id, err)
		}
		out = append(out, env)
		lastID = id
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	next := int64(0)
	if len(out) == limit {
		next = lastID
	}
	return out, next, nil
}
