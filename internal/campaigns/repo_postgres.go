package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists campaigns via database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the campaigns table when missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS campaigns (
	id                 TEXT NOT NULL,
	tenant_id          TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	time_zone          TEXT NOT NULL,
	daily_window_start INT  NOT NULL,
	daily_window_end   INT  NOT NULL,
	start_date         DATE NOT NULL,
	end_date           DATE,
	max_retries        INT  NOT NULL DEFAULT 0,
	retry_interval_s   BIGINT NOT NULL DEFAULT 0,
	total_contacts     INT  NOT NULL DEFAULT 0,
	completed_calls    INT  NOT NULL DEFAULT 0,
	successful_calls   INT  NOT NULL DEFAULT 0,
	failed_calls       INT  NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status);
`)
	return err
}

const campaignCols = `id, tenant_id, name, status, time_zone, daily_window_start, daily_window_end,
	start_date, end_date, max_retries, retry_interval_s,
	total_contacts, completed_calls, successful_calls, failed_calls, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	var endDate any
	if !c.EndDate.IsZero() {
		endDate = c.EndDate
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO campaigns (`+campaignCols+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.TenantID, c.Name, string(c.Status), c.TimeZone,
		c.DailyWindowStart, c.DailyWindowEnd, c.StartDate, endDate,
		c.MaxRetries, int64(c.RetryInterval/time.Second),
		c.TotalContacts, c.CompletedCalls, c.SuccessfulCalls, c.FailedCalls,
		now, now)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+campaignCols+` FROM campaigns WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) ListActive(ctx context.Context, tenantID string) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+campaignCols+` FROM campaigns WHERE tenant_id = $1 AND status = $2`, tenantID, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *PostgresRepo) ListAllActive(ctx context.Context) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+campaignCols+` FROM campaigns WHERE status = $1`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *PostgresRepo) SetStatus(ctx context.Context, tenantID, id string, status Status) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE campaigns SET status = $3, updated_at = now() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) AddContacts(ctx context.Context, tenantID, id string, n int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE campaigns SET total_contacts = total_contacts + $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2`, tenantID, id, n)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) RecordOutcome(ctx context.Context, tenantID, id string, outcome Outcome) error {
	completed, successful, failed, cancelled := 0, 0, 0, 0
	switch outcome {
	case OutcomeSuccess:
		completed, successful = 1, 1
	case OutcomeFailed:
		failed = 1
	case OutcomeCancelled:
		cancelled = 1
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE campaigns SET
	completed_calls  = completed_calls + $3,
	successful_calls = successful_calls + $4,
	failed_calls     = failed_calls + $5,
	total_contacts   = greatest(total_contacts - $6, 0),
	status = CASE
		WHEN status = 'active' AND total_contacts - $6 > 0
			AND completed_calls + $3 + failed_calls + $5 >= total_contacts - $6
		THEN 'completed' ELSE status END,
	updated_at = now()
WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, completed, successful, failed, cancelled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var status string
	var endDate sql.NullTime
	var retrySeconds int64
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &status, &c.TimeZone,
		&c.DailyWindowStart, &c.DailyWindowEnd, &c.StartDate, &endDate,
		&c.MaxRetries, &retrySeconds,
		&c.TotalContacts, &c.CompletedCalls, &c.SuccessfulCalls, &c.FailedCalls,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Campaign{}, err
	}
	c.Status = Status(status)
	if endDate.Valid {
		c.EndDate = endDate.Time
	}
	c.RetryInterval = time.Duration(retrySeconds) * time.Second
	return c, nil
}

func collectCampaigns(rows *sql.Rows) ([]Campaign, error) {
	out := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
