package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/monitoring"
	"github.com/charlesng35/schoolx/pkg/response"
)

// Health reports readiness. A down dependency answers 503; degraded still answers 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	if manager == nil {
		manager = monitoring.NewHealthManager()
	}
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))
		status := http.StatusOK
		if report.Status == monitoring.StatusDown {
			status = http.StatusServiceUnavailable
		}
		response.Success(c, status, report)
	}
}
