package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/mylifebyai/mlbai/internal/api/handlers"
	"github.com/mylifebyai/mlbai/internal/api/middleware"
)

type Deps struct {
	Patreon *handlers.PatreonHandler
	Profile *handlers.ProfileHandler
	Admin   *handlers.AdminHandler
	WS      *handlers.WSHandler

	Roles      middleware.RoleSource
	JWT        middleware.JWTConfig
	CronSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// The provider redirects the browser here; state carries the identity.
	r.GET("/patreon/callback", d.Patreon.Callback)

	// Cron secret or user JWT
	r.POST("/patreon/sync", middleware.SyncAuth(d.CronSecret, d.JWT), middleware.LoadRole(d.Roles), d.Patreon.Sync)

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWT))

	// LoadRole creates the profile with the JWT email before the provider round trip
	auth.POST("/patreon/start", middleware.LoadRole(d.Roles), d.Patreon.Start)
	auth.GET("/patreon/start", middleware.LoadRole(d.Roles), d.Patreon.Start)
	auth.POST("/patreon/unlink", d.Patreon.Unlink)

	auth.GET("/account/profile", d.Profile.Me)

	admin := auth.Group("/admin")
	admin.Use(middleware.LoadRole(d.Roles), middleware.RequireAdmin())

	admin.GET("/users", d.Admin.ListUsers)
	admin.PATCH("/users/:user_id/role", d.Admin.SetRole)
	admin.GET("/users/:user_id/role-changes", d.Admin.RoleChanges)
	admin.GET("/patreon/sync-runs", d.Admin.SyncRuns)

	// WebSocket
	admin.GET("/patreon/sync/ws", d.WS.SyncWS)
}
