package tenants

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Tenant identifies an account and its per-tenant concurrency ceiling.
// Limits are mutated only by administrative action; the dispatch engine
// treats them as read-only.
type Tenant struct {
	ID               string `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	ConcurrencyLimit int    `json:"concurrency_limit" db:"concurrency_limit"`
}

var ErrNotFound = errors.New("tenant not found")

// Directory resolves per-tenant limits for the dispatcher. Unknown tenants
// fall back to the configured default rather than erroring, so a missing
// admin row cannot stall dispatch.
type Directory interface {
	ConcurrencyLimit(ctx context.Context, tenantID string) int
}

// MemoryDirectory is a mutex-guarded directory for tests and single-process runs.
type MemoryDirectory struct {
	mu           sync.Mutex
	tenants      map[string]Tenant
	defaultLimit int
}

func NewMemoryDirectory(defaultLimit int) *MemoryDirectory {
	return &MemoryDirectory{tenants: map[string]Tenant{}, defaultLimit: defaultLimit}
}

func (d *MemoryDirectory) Put(t Tenant) {
	d.mu.Lock()
	d.tenants[t.ID] = t
	d.mu.Unlock()
}

func (d *MemoryDirectory) ConcurrencyLimit(ctx context.Context, tenantID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tenants[tenantID]; ok && t.ConcurrencyLimit > 0 {
		return t.ConcurrencyLimit
	}
	return d.defaultLimit
}

// PostgresDirectory reads tenant limits from the tenants table.
type PostgresDirectory struct {
	db           *sql.DB
	defaultLimit int
}

func NewPostgresDirectory(db *sql.DB, defaultLimit int) *PostgresDirectory {
	return &PostgresDirectory{db: db, defaultLimit: defaultLimit}
}

// EnsureSchema creates the tenants table when missing.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	concurrency_limit INT  NOT NULL DEFAULT 0
);`)
	return err
}

func (d *PostgresDirectory) ConcurrencyLimit(ctx context.Context, tenantID string) int {
	var limit int
	err := d.db.QueryRowContext(ctx,
		`SELECT concurrency_limit FROM tenants WHERE id = $1`, tenantID).Scan(&limit)
	if err != nil || limit <= 0 {
		return d.defaultLimit
	}
	return limit
}
