package queue

import (
	"errors"
	"time"
)

// Entry is the unit of dispatch work: one outbound call to place, either
// tenant-initiated ("direct") or originating from a campaign batch.
//
// Priority is an opaque integer computed by the contact-enrichment
// collaborator at enqueue time; higher dispatches first. Position is the
// monotonic insertion sequence used as the FIFO tie-break.
type Entry struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`

	CallType CallType `json:"call_type" db:"call_type"`
	Status   Status   `json:"status" db:"status"`

	ContactName string `json:"contact_name,omitempty" db:"contact_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Priority int   `json:"priority" db:"priority"`
	Position int64 `json:"position" db:"position"`

	Attempts   int `json:"attempts" db:"attempts"`
	MaxRetries int `json:"max_retries" db:"max_retries"`

	// ScheduledFor is the earliest instant the entry may dispatch; it carries
	// both initial scheduling and retry backoff.
	ScheduledFor  time.Time `json:"scheduled_for" db:"scheduled_for"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`

	// LastOutcome records the most recent transient outcome (busy, no_answer)
	// so retries are distinguishable from first attempts.
	LastOutcome string `json:"last_outcome,omitempty" db:"last_outcome"`
	ErrorReason string `json:"error_reason,omitempty" db:"error_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeDirect   CallType = "direct"
	CallTypeCampaign CallType = "campaign"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether the status ends the entry's lifecycle.
// busy/no_answer are transient: they immediately re-enter queued.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("queue entry not found")
	ErrInvalidEntry  = errors.New("invalid queue entry")
	ErrInvalidStatus = errors.New("invalid status transition")
)

func (e Entry) validateForEnqueue() error {
	if e.TenantID == "" {
		return errors.Join(ErrInvalidEntry, errors.New("tenant_id required"))
	}
	if e.PhoneNumber == "" {
		return errors.Join(ErrInvalidEntry, errors.New("phone_number required"))
	}
	switch e.CallType {
	case CallTypeDirect:
		if e.CampaignID != "" {
			return errors.Join(ErrInvalidEntry, errors.New("direct entry must not carry campaign_id"))
		}
	case CallTypeCampaign:
		if e.CampaignID == "" {
			return errors.Join(ErrInvalidEntry, errors.New("campaign entry requires campaign_id"))
		}
	default:
		return errors.Join(ErrInvalidEntry, errors.New("unknown call_type"))
	}
	return nil
}
