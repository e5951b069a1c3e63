package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// ProfileHandler exposes the caller's profile and lets administrators provision members.
type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Me returns the caller's school profile.
func (h *ProfileHandler) Me(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// Register links an identity-provider user to the administrator's school.
func (h *ProfileHandler) Register(c *gin.Context) {
	admin, ok := currentProfile(c)
	if !ok {
		return
	}

	var payload services.RegisterProfileInput
	if !bindAndValidate(c, &payload) {
		return
	}
	if payload.Role == models.RoleSuperAdmin && admin.Role != models.RoleSuperAdmin {
		response.Error(c, errors.ErrForbidden)
		return
	}
	payload.SchoolID = admin.SchoolID

	profile, err := h.profiles.Register(requestContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, profile)
}
