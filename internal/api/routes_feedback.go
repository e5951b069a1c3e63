package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/handlers"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/models"
)

func registerFeedbackRoutes(api *gin.RouterGroup, svc *Services) {
	handler := handlers.NewFeedbackHandler(svc.Feedback, svc.Analytics)
	adminOnly := middleware.RequireRole(models.RoleAdmin, models.RoleSuperAdmin)

	group := api.Group("/feedback")
	{
		group.POST("", handler.Submit)

		group.GET("", adminOnly, handler.List)
		group.GET("/analytics/current", adminOnly, handler.CurrentAnalytics)
		group.POST("/analytics/rollup", adminOnly, handler.Rollup)
		group.GET("/:id", adminOnly, handler.Get)
		group.PATCH("/:id", adminOnly, handler.Respond)
	}
}
