package main

import (
	"database/sql"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/telemetry"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authManager *auth.Manager, engine *dispatch.Engine, db *sql.DB) {
	h := httpapi.Handlers{
		Auth:   authManager,
		Engine: engine,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	// Provider callbacks (public).
	// NOTE: should be protected by provider signature validation in production.
	r.POST("/webhooks/calls/terminated", h.CallTerminated)

	r.POST("/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// QUEUE routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireTenant())
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin))
		{
			calls.POST("/direct", h.EnqueueDirect)
			calls.DELETE("/:entry_id", h.CancelEntry)
			calls.GET("/status", h.QueueStatus)
			calls.POST("/notify", h.Notify)
		}

		// CAMPAIGN routes
		campaignGroup := v1.Group("/campaigns")
		campaignGroup.Use(rbac.RequireTenant())
		campaignGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			campaignGroup.POST("/", h.RegisterCampaign)
			campaignGroup.POST("/:campaign_id/contacts", h.EnqueueCampaignBatch)
			campaignGroup.POST("/:campaign_id/activate", h.ActivateCampaign)
			campaignGroup.POST("/:campaign_id/pause", h.PauseCampaign)
			campaignGroup.POST("/:campaign_id/resume", h.ResumeCampaign)
			campaignGroup.POST("/:campaign_id/cancel", h.CancelCampaign)
		}

		// ADMIN routes
		// Only owner/super_admin can access admin endpoints by default.
		// Hidden network_operator is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireTenant())
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
		}
	}
}
