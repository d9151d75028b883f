package campaigns

import (
	"errors"
	"fmt"
	"time"
)

// Campaign is a tenant-owned batch of outbound calls with a daily dialing
// window expressed in the campaign's own time zone.
//
// Multi-tenant invariant: TenantID is required on every row.
//
// The dispatch engine only reads campaign definitions and bumps the outcome
// counters; creation and contact enrichment happen in external collaborators.
type Campaign struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	Status Status `json:"status" db:"status"`

	// TimeZone is an IANA zone name, e.g. "America/New_York".
	TimeZone string `json:"time_zone" db:"time_zone"`

	// DailyWindowStart/End are minutes since local midnight.
	// Invariant: start < end and the window spans at least MinWindow.
	DailyWindowStart int `json:"daily_window_start" db:"daily_window_start"`
	DailyWindowEnd   int `json:"daily_window_end" db:"daily_window_end"`

	// StartDate/EndDate bound the campaign by calendar date in its zone.
	// Only the Y/M/D components are meaningful. EndDate zero means open-ended.
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date,omitempty" db:"end_date"`

	MaxRetries    int           `json:"max_retries" db:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval" db:"retry_interval"`

	TotalContacts   int `json:"total_contacts" db:"total_contacts"`
	CompletedCalls  int `json:"completed_calls" db:"completed_calls"`
	SuccessfulCalls int `json:"successful_calls" db:"successful_calls"`
	FailedCalls     int `json:"failed_calls" db:"failed_calls"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// MinWindow is the shortest daily window a campaign may declare.
const MinWindow = 60 * time.Minute

var (
	ErrNotFound        = errors.New("campaign not found")
	ErrInvalidCampaign = errors.New("invalid campaign")
)

// Dispatchable reports whether entries of this campaign may be selected at all.
// Window and date checks are separate (IsWithinWindow).
func (c Campaign) Dispatchable() bool {
	return c.Status == StatusActive
}

// Resolved reports whether all contacts have reached a terminal outcome.
func (c Campaign) Resolved() bool {
	return c.TotalContacts > 0 && c.CompletedCalls+c.FailedCalls >= c.TotalContacts
}

// Location resolves the campaign's IANA zone.
func (c Campaign) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// Validate enforces creation-time invariants.
func (c Campaign) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id required", ErrInvalidCampaign)
	}
	if c.DailyWindowStart < 0 || c.DailyWindowEnd > 24*60 {
		return fmt.Errorf("%w: window out of range", ErrInvalidCampaign)
	}
	if c.DailyWindowStart >= c.DailyWindowEnd {
		return fmt.Errorf("%w: daily_window_start must be before daily_window_end", ErrInvalidCampaign)
	}
	if time.Duration(c.DailyWindowEnd-c.DailyWindowStart)*time.Minute < MinWindow {
		return fmt.Errorf("%w: daily window must span at least %s", ErrInvalidCampaign, MinWindow)
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date required", ErrInvalidCampaign)
	}
	if !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("%w: end_date before start_date", ErrInvalidCampaign)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidCampaign)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("%w: retry_interval must be >= 0", ErrInvalidCampaign)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: unknown time_zone %q", ErrInvalidCampaign, c.TimeZone)
	}
	return nil
}
