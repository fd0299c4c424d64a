package main

import (
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: This endpoint should be protected by Twilio signature validation in production.
	r.POST("/webhooks/telephony/voice/status", h.TwilioVoiceStatus)

	// AUTH routes (token issuance).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireWorkspace())
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin))
		{
			calls.POST("/direct", h.StartDirectCall)
		}

		// CAMPAIGNS routes
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireWorkspace())
		{
			read := campaigns.Group("")
			read.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
			{
				read.GET("/:campaign_id", h.GetCampaign)
			}

			enqueue := campaigns.Group("")
			enqueue.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin))
			{
				enqueue.POST("/:campaign_id/enqueue", h.EnqueueCampaignContacts)
			}

			// Lifecycle control is owner-level.
			control := campaigns.Group("")
			control.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
			{
				control.POST("", h.CreateCampaign)
				control.POST("/:campaign_id/pause", h.PauseCampaign)
				control.POST("/:campaign_id/resume", h.ResumeCampaign)
				control.POST("/:campaign_id/cancel", h.CancelCampaign)
			}
		}

		// DISPATCH observability
		dispatch := v1.Group("/dispatch")
		dispatch.Use(rbac.RequireWorkspace())
		dispatch.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			dispatch.GET("/snapshot", h.TenantDispatchSnapshot)
		}

		// ADMIN routes
		// Only owner/super_admin can access admin endpoints by default.
		// Hidden network_operator is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireWorkspace())
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.GET("/dispatch/snapshot", h.SystemDispatchSnapshot)
		}

		// Cross-workspace limit administration is super_admin only.
		super := v1.Group("/admin")
		super.Use(rbac.RequireAnyRole(rbac.RoleSuperAdmin))
		{
			super.PUT("/tenants/:workspace_id/concurrency-limit", h.SetTenantConcurrencyLimit)
		}
	}
}
