package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// Profile loads the school profile of the authenticated user. Users without an
// active profile are rejected with PROFILE_MISSING.
func Profile(profiles *services.ProfileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		profile, err := profiles.Get(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !profile.IsActive {
			response.Error(c, errors.ErrProfileMissing)
			c.Abort()
			return
		}

		c.Set(CtxProfileKey, profile)
		c.Next()
	}
}

// CurrentProfile returns the profile stored by Profile.
func CurrentProfile(c *gin.Context) (*models.UserProfile, bool) {
	v, ok := c.Get(CtxProfileKey)
	if !ok {
		return nil, false
	}
	profile, ok := v.(*models.UserProfile)
	return profile, ok && profile != nil
}
