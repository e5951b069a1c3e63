package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/handlers/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
)

func TestFeedback_SubmitAndReview(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.CreateProfile(models.RoleAdmin, "head")
	teacher := env.CreateProfile(models.RoleTeacher, "tunde")

	resp := env.Request(http.MethodPost, "/api/feedback", map[string]any{
		"category":         models.FeedbackBugReport,
		"subject":          "Timetable export",
		"feedback":         "The PDF export is blank",
		"rating":           2,
		"improvement_area": "timetable",
		"priority":         models.FeedbackPriorityHigh,
	}, env.Token(teacher.ID))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var submitted services.FeedbackDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &submitted)
	require.Equal(t, models.FeedbackStatusSubmitted, submitted.Status)
	require.Equal(t, env.School.ID, submitted.SchoolID)
	require.Equal(t, "tunde", submitted.SubmitterName)

	resp = env.Request(http.MethodGet, "/api/feedback", nil, env.Token(teacher.ID))
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.Request(http.MethodGet, "/api/feedback?status=all&category="+models.FeedbackBugReport, nil, env.Token(admin.ID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var listed []services.FeedbackDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, "tunde@school.example", listed[0].SubmitterEmail)

	resp = env.Request(http.MethodPatch, "/api/feedback/"+submitted.ID, map[string]any{
		"status":         models.FeedbackStatusInProgress,
		"admin_response": "Fix scheduled",
	}, env.Token(admin.ID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var reviewed services.FeedbackDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &reviewed)
	require.Equal(t, models.FeedbackStatusInProgress, reviewed.Status)
	require.NotNil(t, reviewed.AdminResponse)
	require.Equal(t, "Fix scheduled", *reviewed.AdminResponse)
	require.NotNil(t, reviewed.RespondedBy)
	require.Equal(t, admin.ID, *reviewed.RespondedBy)

	resp = env.Request(http.MethodPatch, "/api/feedback/"+submitted.ID, map[string]any{"status": "closed"}, env.Token(admin.ID))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.Request(http.MethodGet, "/api/feedback/missing", nil, env.Token(admin.ID))
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFeedback_SubmitValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	parent := env.CreateProfile(models.RoleParent, "ngozi")
	token := env.Token(parent.ID)

	resp := env.Request(http.MethodPost, "/api/feedback", map[string]any{"category": models.FeedbackGeneral}, token)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "Please provide your feedback", testutil.DecodeResponse(t, resp).Error.Message)

	resp = env.Request(http.MethodPost, "/api/feedback", map[string]any{"category": models.FeedbackNPSSurvey}, token)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.Request(http.MethodPost, "/api/feedback", map[string]any{"category": "compliment", "feedback": "x"}, token)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.FeedbackSubmission{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestFeedback_AnalyticsCurrentAndRollup(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.CreateProfile(models.RoleAdmin, "head")
	token := env.Token(admin.ID)

	resp := env.Request(http.MethodGet, "/api/feedback/analytics/current", nil, token)
	require.Equal(t, http.StatusNotFound, resp.Code)

	for _, score := range []int{10, 9, 7, 3} {
		resp = env.Request(http.MethodPost, "/api/feedback", map[string]any{
			"category":  models.FeedbackNPSSurvey,
			"nps_score": score,
		}, token)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	resp = env.Request(http.MethodGet, "/api/feedback/analytics/current", nil, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var current services.FeedbackAnalyticsDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &current)
	require.Equal(t, 4, current.TotalSubmissions)
	require.Equal(t, 2, current.NPSPromoters)
	require.Equal(t, 1, current.NPSPassives)
	require.Equal(t, 1, current.NPSDetractors)
	require.NotNil(t, current.NPSPercentage)
	require.InDelta(t, 25.0, *current.NPSPercentage, 0.001)

	resp = env.Request(http.MethodPost, "/api/feedback/analytics/rollup?month=2001-13", nil, token)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	month := time.Now().UTC().Format("2006-01")
	resp = env.Request(http.MethodPost, "/api/feedback/analytics/rollup?month="+month, nil, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var rolled services.FeedbackAnalyticsDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &rolled)
	require.Equal(t, 4, rolled.TotalSubmissions)
}
