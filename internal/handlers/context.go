package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID writes a 401 and returns false when the request is unauthenticated.
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// currentProfile writes a 403 and returns false when no school profile was loaded.
func currentProfile(c *gin.Context) (*models.UserProfile, bool) {
	profile, ok := middleware.CurrentProfile(c)
	if !ok {
		response.Error(c, errors.ErrProfileMissing)
		return nil, false
	}
	return profile, true
}
