package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/handlers"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/models"
)

func registerNotificationRoutes(api *gin.RouterGroup, svc *Services) {
	handler := handlers.NewNotificationHandler(svc.Notifications, svc.Profiles)
	settings := handlers.NewNotificationSettingsHandler(svc.Settings)

	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
		group.DELETE("/:id", handler.Delete)
		group.DELETE("", handler.ClearAll)

		group.POST("", middleware.RequireRole(models.RoleAdmin, models.RoleSuperAdmin), handler.Create)
	}

	api.GET("/notification-settings", settings.Get)
	api.PUT("/notification-settings", settings.Update)
}
