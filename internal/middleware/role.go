package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/metrics"
	"github.com/charlesng35/schoolx/pkg/response"
)

// RequireRole allows the request only when the loaded profile has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	label := strings.Join(roles, "|")

	return func(c *gin.Context) {
		profile, ok := CurrentProfile(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[profile.Role]; !ok {
			metrics.RoleChecks.WithLabelValues(label, "deny").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.RoleChecks.WithLabelValues(label, "allow").Inc()
		c.Next()
	}
}
