package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/database/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
)

func TestProfileAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	school := testutil.MustCreateSchool(t, db, "MW")
	admin := testutil.MustCreateProfile(t, db, school, models.RoleAdmin, "admin")
	teacher := testutil.MustCreateProfile(t, db, school, models.RoleTeacher, "teacher")

	profiles, err := services.NewProfileService(db)
	require.NoError(t, err)

	asUser := func(userID string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if userID != "" {
				c.Set(CtxUserIDKey, userID)
			}
			c.Next()
		}
	}

	call := func(userID string) int {
		r := gin.New()
		r.GET("/admin", asUser(userID), Profile(profiles), RequireRole(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) {
			profile, ok := CurrentProfile(c)
			require.True(t, ok)
			require.Equal(t, userID, profile.ID)
			c.Status(http.StatusNoContent)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		return w.Code
	}

	require.Equal(t, http.StatusNoContent, call(admin.ID))
	require.Equal(t, http.StatusForbidden, call(teacher.ID))
	require.Equal(t, http.StatusForbidden, call("no-profile"))
	require.Equal(t, http.StatusUnauthorized, call(""))
}
