package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/handlers"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/models"
)

func registerProfileRoutes(api *gin.RouterGroup, svc *Services) {
	handler := handlers.NewProfileHandler(svc.Profiles)

	group := api.Group("/profile")
	{
		group.GET("/me", handler.Me)
		group.POST("", middleware.RequireRole(models.RoleAdmin, models.RoleSuperAdmin), handler.Register)
	}
}
