package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth   *auth.Manager
	Engine *dispatch.Engine
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Queue ---

// EnqueueDirect creates a single tenant-initiated call entry.
func (h Handlers) EnqueueDirect(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req dispatch.DirectCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entry, err := h.Engine.EnqueueDirect(c.Request.Context(), tenantID, req)
	if err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type batchRequest struct {
	Contacts []dispatch.BatchContact `json:"contacts"`
}

// EnqueueCampaignBatch adds a batch of contacts to a campaign's queue.
func (h Handlers) EnqueueCampaignBatch(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	campaignID := c.Param("campaign_id")
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entries, err := h.Engine.EnqueueCampaignBatch(c.Request.Context(), tenantID, campaignID, req.Contacts)
	if err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"enqueued": len(entries), "entries": entries})
}

// CancelEntry cancels a queued entry. Entries already in flight are left to
// finish and resolve through the outcome callback.
func (h Handlers) CancelEntry(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	entryID := c.Param("entry_id")
	if entryID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "entry_id required"})
		return
	}
	if err := h.Engine.Cancel(c.Request.Context(), tenantID, entryID); err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// QueueStatus returns the tenant's queue depth and next scheduled wake.
func (h Handlers) QueueStatus(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	report, err := h.Engine.QueueStatus(c.Request.Context(), tenantID)
	if err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Notify wakes the dispatch scheduler. Callers use it after out-of-band
// state changes (bulk imports, manual DB edits); repeated notifications
// coalesce into at most one extra pass.
func (h Handlers) Notify(c *gin.Context) {
	h.Engine.Notify()
	c.JSON(http.StatusAccepted, gin.H{"status": "notified"})
}

// --- Campaigns ---

type registerCampaignRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TimeZone         string `json:"time_zone"`
	DailyWindowStart int    `json:"daily_window_start"`
	DailyWindowEnd   int    `json:"daily_window_end"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date,omitempty"`
	MaxRetries       int    `json:"max_retries"`
	RetryIntervalSec int64  `json:"retry_interval_s"`
}

// RegisterCampaign creates a campaign in scheduled state.
func (h Handlers) RegisterCampaign(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req registerCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	var end time.Time
	if req.EndDate != "" {
		end, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
	}
	campaign := campaigns.Campaign{
		ID:               req.ID,
		TenantID:         tenantID,
		Name:             req.Name,
		Status:           campaigns.StatusScheduled,
		TimeZone:         req.TimeZone,
		DailyWindowStart: req.DailyWindowStart,
		DailyWindowEnd:   req.DailyWindowEnd,
		StartDate:        start,
		EndDate:          end,
		MaxRetries:       req.MaxRetries,
		RetryInterval:    time.Duration(req.RetryIntervalSec) * time.Second,
	}
	if err := h.Engine.RegisterCampaign(c.Request.Context(), campaign); err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h Handlers) ActivateCampaign(c *gin.Context) {
	h.campaignStatusChange(c, h.Engine.ActivateCampaign)
}

func (h Handlers) PauseCampaign(c *gin.Context)  { h.campaignStatusChange(c, h.Engine.PauseCampaign) }
func (h Handlers) ResumeCampaign(c *gin.Context) { h.campaignStatusChange(c, h.Engine.ResumeCampaign) }
func (h Handlers) CancelCampaign(c *gin.Context) { h.campaignStatusChange(c, h.Engine.CancelCampaign) }

func (h Handlers) campaignStatusChange(c *gin.Context, op func(ctx context.Context, tenantID, id string) error) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	id := c.Param("campaign_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	}
	if err := op(c.Request.Context(), tenantID, id); err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Provider callbacks ---

type terminationRequest struct {
	ExternalID string `json:"external_id"`
	Outcome    string `json:"outcome"`
}

// CallTerminated receives the normalized terminal event for an in-flight call
// from the telephony provider and releases the call's slot.
func (h Handlers) CallTerminated(c *gin.Context) {
	var req terminationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	outcome := telephony.CallOutcome(req.Outcome)
	if !outcome.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid outcome"})
		return
	}
	if err := h.Engine.OnCallTerminated(c.Request.Context(), req.ExternalID, outcome); err != nil {
		abortEngineErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// abortEngineErr maps engine/store errors onto HTTP statuses.
func abortEngineErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound),
		errors.Is(err, campaigns.ErrNotFound),
		errors.Is(err, dispatch.ErrUnknownHandle):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrInvalidRequest),
		errors.Is(err, queue.ErrInvalidEntry),
		errors.Is(err, campaigns.ErrInvalidCampaign),
		errors.Is(err, dispatch.ErrInvalidOutcome):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrInvalidStatus),
		errors.Is(err, dispatch.ErrNotDispatchable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
