package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists queue entries via database/sql (pgx stdlib driver).
// Position comes from a BIGSERIAL so insertion order survives restarts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// EnsureSchema creates the queue_entries table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS queue_entries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	campaign_id     TEXT NOT NULL DEFAULT '',
	call_type       TEXT NOT NULL,
	status          TEXT NOT NULL,
	contact_name    TEXT NOT NULL DEFAULT '',
	phone_number    TEXT NOT NULL,
	priority        INT  NOT NULL DEFAULT 0,
	position        BIGSERIAL,
	attempts        INT  NOT NULL DEFAULT 0,
	max_retries     INT  NOT NULL DEFAULT 0,
	scheduled_for   TIMESTAMPTZ NOT NULL,
	last_attempt_at TIMESTAMPTZ,
	last_outcome    TEXT NOT NULL DEFAULT '',
	error_reason    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_selection
	ON queue_entries (tenant_id, status, scheduled_for);
`)
	return err
}

const entryCols = `id, tenant_id, campaign_id, call_type, status, contact_name, phone_number,
	priority, position, attempts, max_retries, scheduled_for, last_attempt_at,
	last_outcome, error_reason, created_at, updated_at`

func (s *PostgresStore) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if err := e.validateForEnqueue(); err != nil {
		return Entry{}, err
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = StatusQueued
	if e.ScheduledFor.IsZero() {
		e.ScheduledFor = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
INSERT INTO queue_entries
	(id, tenant_id, campaign_id, call_type, status, contact_name, phone_number,
	 priority, attempts, max_retries, scheduled_for, last_outcome, error_reason,
	 created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'','',$12,$13)
RETURNING position`,
		e.ID, e.TenantID, e.CampaignID, string(e.CallType), string(e.Status),
		e.ContactName, e.PhoneNumber, e.Priority, e.Attempts, e.MaxRetries,
		e.ScheduledFor, e.CreatedAt, e.UpdatedAt).Scan(&e.Position)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *PostgresStore) EnqueueBatch(ctx context.Context, entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		inserted, err := s.Enqueue(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) NextEligible(ctx context.Context, tenantID string, now time.Time, gate CampaignGate) (Entry, bool, error) {
	// Ordering pushed to SQL; the campaign-window gate runs in Go over the
	// streamed rows so closed-window entries are skipped, not consumed.
	rows, err := s.db.QueryContext(ctx, `
SELECT `+entryCols+` FROM queue_entries
WHERE tenant_id = $1 AND status = $2 AND scheduled_for <= $3
ORDER BY (call_type = 'direct') DESC, priority DESC, position ASC`,
		tenantID, string(StatusQueued), now)
	if err != nil {
		return Entry{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Entry{}, false, err
		}
		if e.CallType == CallTypeCampaign && gate != nil && !gate(e) {
			continue
		}
		return e, true, nil
	}
	return Entry{}, false, rows.Err()
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries
SET status = $2, last_attempt_at = $3, updated_at = now()
WHERE id = $1 AND status = $4`,
		id, string(StatusProcessing), now.UTC(), string(StatusQueued))
	if err != nil {
		return err
	}
	return requireTransition(res)
}

func (s *PostgresStore) Requeue(ctx context.Context, id string, scheduledFor time.Time, incAttempt bool, lastOutcome string) error {
	inc := 0
	if incAttempt {
		inc = 1
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries
SET status = $2, scheduled_for = $3, attempts = attempts + $4, last_outcome = $5, updated_at = now()
WHERE id = $1 AND status = $6`,
		id, string(StatusQueued), scheduledFor.UTC(), inc, lastOutcome, string(StatusProcessing))
	if err != nil {
		return err
	}
	return requireTransition(res)
}

func (s *PostgresStore) Finalize(ctx context.Context, id string, status Status, reason string) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries
SET status = $2, error_reason = $3, updated_at = now()
WHERE id = $1 AND status = $4`,
		id, string(status), reason, string(StatusProcessing))
	if err != nil {
		return err
	}
	return requireTransition(res)
}

func (s *PostgresStore) Cancel(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries
SET status = $3, updated_at = now()
WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		id, tenantID, string(StatusCancelled), string(StatusQueued))
	if err != nil {
		return err
	}
	return requireTransition(res)
}

func (s *PostgresStore) Flag(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries SET error_reason = $2, updated_at = now() WHERE id = $1`,
		id, reason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context, tenantID string) (int, int, error) {
	var queued, processing int
	err := s.db.QueryRowContext(ctx, `
SELECT
	count(*) FILTER (WHERE status = 'queued'),
	count(*) FILTER (WHERE status = 'processing')
FROM queue_entries WHERE tenant_id = $1`, tenantID).Scan(&queued, &processing)
	return queued, processing, err
}

func (s *PostgresStore) EarliestScheduled(ctx context.Context, tenantID string, after time.Time) (time.Time, bool, error) {
	query := `
SELECT min(scheduled_for) FROM queue_entries
WHERE status = 'queued' AND scheduled_for > $1`
	args := []any{after.UTC()}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	var min sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&min); err != nil {
		return time.Time{}, false, err
	}
	if !min.Valid {
		return time.Time{}, false, nil
	}
	return min.Time, true, nil
}

func (s *PostgresStore) TenantsWithDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT tenant_id FROM queue_entries
WHERE status = 'queued' AND scheduled_for <= $1
ORDER BY tenant_id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListProcessing(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+entryCols+` FROM queue_entries WHERE status = 'processing'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidStatus
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var callType, status string
	var lastAttempt sql.NullTime
	err := row.Scan(
		&e.ID, &e.TenantID, &e.CampaignID, &callType, &status,
		&e.ContactName, &e.PhoneNumber, &e.Priority, &e.Position,
		&e.Attempts, &e.MaxRetries, &e.ScheduledFor, &lastAttempt,
		&e.LastOutcome, &e.ErrorReason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.CallType = CallType(callType)
	e.Status = Status(status)
	if lastAttempt.Valid {
		e.LastAttemptAt = lastAttempt.Time
	}
	return e, nil
}
