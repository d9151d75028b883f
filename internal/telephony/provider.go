package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic outbound-call contract used by the
// dispatch engine.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - All requests must be tenant-scoped (tenant_id required).
// - InitiateCall must return quickly (the engine bounds it with a short
//   timeout); it does not guarantee the call's ultimate outcome, which
//   arrives later via the terminal-outcome callback.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error)
}

// InitiateCallRequest asks the provider to place one outbound call.
type InitiateCallRequest struct {
	TenantID   string `json:"tenant_id"`
	EntryID    string `json:"entry_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	// PhoneNumber is E.164 where possible.
	PhoneNumber string `json:"phone_number"`
	ContactName string `json:"contact_name,omitempty"`

	// Attempt is 1-based; providers may use it for pacing.
	Attempt int `json:"attempt"`
}

// InitiateCallResult reports synchronous acceptance only.
type InitiateCallResult struct {
	// Accepted false with nil error means the provider rejected the request
	// outright (capacity, invalid number); the engine applies a cooldown
	// rather than the retry policy.
	Accepted bool `json:"accepted"`

	// ExternalID is the provider's call handle, used to correlate the
	// terminal-outcome callback.
	ExternalID string `json:"external_id,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// CallOutcome is the normalized terminal result delivered by the external
// webhook/event layer.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeBusy      CallOutcome = "busy"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeCancelled CallOutcome = "cancelled"
)

// Valid reports whether o is a known terminal outcome.
func (o CallOutcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeBusy, OutcomeNoAnswer, OutcomeCancelled:
		return true
	}
	return false
}

// TerminationEvent is the normalized callback payload. Parsing any specific
// vendor's webhook format happens outside this module; the event layer
// delivers this shape.
type TerminationEvent struct {
	ExternalID string      `json:"external_id"`
	Outcome    CallOutcome `json:"outcome"`
	OccurredAt time.Time   `json:"occurred_at,omitempty"`
}
