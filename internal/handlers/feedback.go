package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// FeedbackHandler serves feedback intake for everyone and review for administrators.
type FeedbackHandler struct {
	feedback  *services.FeedbackService
	analytics *services.FeedbackAnalyticsService
	now       func() time.Time
}

func NewFeedbackHandler(feedback *services.FeedbackService, analytics *services.FeedbackAnalyticsService) *FeedbackHandler {
	return &FeedbackHandler{
		feedback:  feedback,
		analytics: analytics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores a submission for the caller's school.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	var payload services.SubmitFeedbackInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}
	payload.UserID = profile.ID
	payload.SchoolID = profile.SchoolID

	dto, err := h.feedback.Submit(requestContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// List returns the school's submissions filtered by ?status= and ?category=.
func (h *FeedbackHandler) List(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	items, err := h.feedback.List(requestContext(c), services.FeedbackFilter{
		SchoolID: profile.SchoolID,
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Limit: limit, Offset: offset, Total: int64(len(items))})
}

// Get returns one submission.
func (h *FeedbackHandler) Get(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	dto, err := h.feedback.Get(requestContext(c), profile.SchoolID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

type respondRequest struct {
	Status        string  `json:"status" validate:"omitempty,oneof=submitted reviewed in_progress completed archived"`
	AdminResponse *string `json:"admin_response"`
	AdminNotes    *string `json:"admin_notes"`
}

// Respond records the administrator's status change, response and notes.
func (h *FeedbackHandler) Respond(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	var payload respondRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.feedback.Respond(requestContext(c), services.RespondFeedbackInput{
		ID:            strings.TrimSpace(c.Param("id")),
		SchoolID:      profile.SchoolID,
		AdminID:       profile.ID,
		Status:        payload.Status,
		AdminResponse: payload.AdminResponse,
		AdminNotes:    payload.AdminNotes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// CurrentAnalytics returns the rollup for the current calendar month.
func (h *FeedbackHandler) CurrentAnalytics(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	dto, err := h.analytics.Current(requestContext(c), profile.SchoolID, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Rollup recomputes the rollup for ?month=YYYY-MM, defaulting to the current month.
func (h *FeedbackHandler) Rollup(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	at := h.now()
	if month := strings.TrimSpace(c.Query("month")); month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			response.Error(c, errors.NewBadRequest("month must use YYYY-MM format"))
			return
		}
		at = parsed
	}

	dto, err := h.analytics.Rollup(requestContext(c), profile.SchoolID, at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}
