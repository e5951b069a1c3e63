package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/metrics"
)

// FieldError is a validation failure attached to a single form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Message
}

// SubmitFeedbackInput carries one feedback submission. Zero values mean "not answered".
type SubmitFeedbackInput struct {
	UserID          string `json:"-"`
	SchoolID        string `json:"-"`
	Category        string `json:"category"`
	Rating          *int   `json:"rating"`
	NPSScore        *int   `json:"nps_score"`
	Satisfaction    string `json:"satisfaction"`
	Subject         string `json:"subject"`
	Feedback        string `json:"feedback"`
	FeatureRequest  string `json:"feature_request"`
	ImprovementArea string `json:"improvement_area"`
	Priority        string `json:"priority"`
}

// ValidateFeedbackInput checks a submission before any network or database work.
// NPS surveys need a score of 1..10; other categories need feedback text.
func ValidateFeedbackInput(input SubmitFeedbackInput) *FieldError {
	category := strings.TrimSpace(input.Category)
	if !containsString(models.FeedbackCategories, category) {
		return &FieldError{Field: "category", Message: "Please choose a feedback category"}
	}

	if category == models.FeedbackNPSSurvey {
		if input.NPSScore == nil || *input.NPSScore == 0 {
			return &FieldError{Field: "nps_score", Message: "Please select a score"}
		}
		if *input.NPSScore < 0 || *input.NPSScore > 10 {
			return &FieldError{Field: "nps_score", Message: "Score must be between 0 and 10"}
		}
	} else if strings.TrimSpace(input.Feedback) == "" {
		return &FieldError{Field: "feedback", Message: "Please provide your feedback"}
	}

	if input.NPSScore != nil && (*input.NPSScore < 0 || *input.NPSScore > 10) {
		return &FieldError{Field: "nps_score", Message: "Score must be between 0 and 10"}
	}
	if input.Rating != nil && (*input.Rating < 0 || *input.Rating > 5) {
		return &FieldError{Field: "rating", Message: "Rating must be between 1 and 5"}
	}
	if value := strings.TrimSpace(input.Satisfaction); value != "" && !containsString(models.SatisfactionLevels, value) {
		return &FieldError{Field: "satisfaction", Message: "Unknown satisfaction level"}
	}
	if value := strings.TrimSpace(input.ImprovementArea); value != "" && !containsString(models.ImprovementAreas, value) {
		return &FieldError{Field: "improvement_area", Message: "Unknown improvement area"}
	}
	if value := strings.TrimSpace(input.Priority); value != "" && !containsString(models.FeedbackPriorities, value) {
		return &FieldError{Field: "priority", Message: "Unknown priority"}
	}
	if len(strings.TrimSpace(input.Subject)) > 255 {
		return &FieldError{Field: "subject", Message: "Subject must be at most 255 characters"}
	}
	return nil
}

// FeedbackDTO is a submission as shown to administrators.
type FeedbackDTO struct {
	models.FeedbackSubmission
	SubmitterName  string `json:"submitter_name,omitempty"`
	SubmitterEmail string `json:"submitter_email,omitempty"`
}

// FeedbackFilter narrows List. Empty or "all" disables a filter.
type FeedbackFilter struct {
	SchoolID string
	Status   string
	Category string
	Limit    int
	Offset   int
}

// RespondFeedbackInput is an administrator's reply. Nil fields are left unchanged.
type RespondFeedbackInput struct {
	ID            string  `json:"-"`
	SchoolID      string  `json:"-"`
	AdminID       string  `json:"-"`
	Status        string  `json:"status"`
	AdminResponse *string `json:"admin_response"`
	AdminNotes    *string `json:"admin_notes"`
}

// FeedbackEventPayload is broadcast to school administrators on the feedback stream.
type FeedbackEventPayload struct {
	Feedback FeedbackDTO `json:"feedback"`
}

// AnalyticsRefresher recomputes the analytics row covering a submission.
type AnalyticsRefresher interface {
	Rollup(ctx context.Context, schoolID string, at time.Time) (*FeedbackAnalyticsDTO, error)
}

// FeedbackService handles feedback intake and review.
type FeedbackService struct {
	db          *gorm.DB
	profiles    *ProfileService
	analytics   AnalyticsRefresher
	broadcaster realtime.Broadcaster
	now         func() time.Time
	log         *zap.Logger
}

// NewFeedbackService constructs a FeedbackService. analytics, profiles and broadcaster are optional.
func NewFeedbackService(db *gorm.DB, profiles *ProfileService, analytics AnalyticsRefresher, broadcaster realtime.Broadcaster) (*FeedbackService, error) {
	if db == nil {
		return nil, errors.New("feedback service: db is required")
	}
	return &FeedbackService{
		db:          db,
		profiles:    profiles,
		analytics:   analytics,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.WithModule("feedback"),
	}, nil
}

// Submit validates and stores a submission with status "submitted".
func (s *FeedbackService) Submit(ctx context.Context, input SubmitFeedbackInput) (*FeedbackDTO, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.SchoolID) == "" {
		return nil, apperrors.NewBadRequest("user and school are required")
	}
	if fieldErr := ValidateFeedbackInput(input); fieldErr != nil {
		return nil, apperrors.NewBadRequest(fieldErr.Message).WithInternal(fieldErr)
	}

	submission := models.FeedbackSubmission{
		UserID:          strings.TrimSpace(input.UserID),
		SchoolID:        strings.TrimSpace(input.SchoolID),
		Category:        strings.TrimSpace(input.Category),
		Rating:          positiveOrNil(input.Rating),
		NPSScore:        positiveOrNil(input.NPSScore),
		Satisfaction:    optionalString(input.Satisfaction),
		Subject:         optionalString(input.Subject),
		Feedback:        optionalString(input.Feedback),
		FeatureRequest:  optionalString(input.FeatureRequest),
		ImprovementArea: optionalString(input.ImprovementArea),
		Priority:        defaultIfEmpty(strings.TrimSpace(input.Priority), models.FeedbackPriorityMedium),
		Status:          models.FeedbackStatusSubmitted,
	}

	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		return nil, fmt.Errorf("feedback service: create submission: %w", err)
	}
	metrics.FeedbackSubmissions.WithLabelValues(submission.Category).Inc()

	s.refreshAnalytics(ctx, submission.SchoolID, submission.CreatedAt)

	dto, err := s.Get(ctx, submission.SchoolID, submission.ID)
	if err != nil {
		return nil, err
	}
	s.broadcastToAdmins(ctx, submission.SchoolID, realtime.EventFeedbackSubmitted, *dto)
	return dto, nil
}

// List returns submissions of a school, newest first.
func (s *FeedbackService) List(ctx context.Context, filter FeedbackFilter) ([]FeedbackDTO, error) {
	ctx = ensureContext(ctx)
	schoolID := strings.TrimSpace(filter.SchoolID)
	if schoolID == "" {
		return nil, apperrors.NewBadRequest("school id is required")
	}

	query := s.db.WithContext(ctx).
		Preload("User").
		Where("school_id = ?", schoolID)
	if status := normaliseFilter(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if category := normaliseFilter(filter.Category); category != "" {
		query = query.Where("category = ?", category)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	var rows []models.FeedbackSubmission
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, filter.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feedback service: list submissions: %w", err)
	}

	items := make([]FeedbackDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapFeedback(row))
	}
	return items, nil
}

// Get returns one submission of the school.
func (s *FeedbackService) Get(ctx context.Context, schoolID, id string) (*FeedbackDTO, error) {
	ctx = ensureContext(ctx)
	var row models.FeedbackSubmission
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("id = ? AND school_id = ?", strings.TrimSpace(id), strings.TrimSpace(schoolID)).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("feedback service: load submission: %w", err)
	}
	dto := mapFeedback(row)
	return &dto, nil
}

// Respond records an administrator's status change, response and notes.
// Any status in the closed set may follow any other.
func (s *FeedbackService) Respond(ctx context.Context, input RespondFeedbackInput) (*FeedbackDTO, error) {
	ctx = ensureContext(ctx)
	existing, err := s.Get(ctx, input.SchoolID, input.ID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"responded_at": s.now(),
		"responded_by": strings.TrimSpace(input.AdminID),
	}
	if status := strings.TrimSpace(input.Status); status != "" {
		if !containsString(models.FeedbackStatuses, status) {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported status %q", input.Status))
		}
		updates["status"] = status
	}
	if input.AdminResponse != nil {
		updates["admin_response"] = optionalString(*input.AdminResponse)
	}
	if input.AdminNotes != nil {
		updates["admin_notes"] = optionalString(*input.AdminNotes)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.FeedbackSubmission{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("feedback service: update submission: %w", err)
	}

	dto, err := s.Get(ctx, existing.SchoolID, existing.ID)
	if err != nil {
		return nil, err
	}
	s.broadcastToAdmins(ctx, existing.SchoolID, realtime.EventFeedbackUpdated, *dto)
	return dto, nil
}

func (s *FeedbackService) refreshAnalytics(ctx context.Context, schoolID string, at time.Time) {
	if s.analytics == nil {
		return
	}
	if _, err := s.analytics.Rollup(ctx, schoolID, at); err != nil {
		s.log.Warn("analytics refresh failed", zap.String("school_id", schoolID), zap.Error(err))
	}
}

func (s *FeedbackService) broadcastToAdmins(ctx context.Context, schoolID, event string, dto FeedbackDTO) {
	if s.broadcaster == nil || s.profiles == nil {
		return
	}
	adminIDs, err := s.profiles.AdminIDs(ctx, schoolID)
	if err != nil {
		s.log.Warn("resolve feedback recipients failed", zap.String("school_id", schoolID), zap.Error(err))
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamFeedback,
		Event:  event,
		Data:   FeedbackEventPayload{Feedback: dto},
	}
	for _, adminID := range adminIDs {
		s.broadcaster.BroadcastToUser(realtime.StreamFeedback, adminID, message)
	}
}

func mapFeedback(row models.FeedbackSubmission) FeedbackDTO {
	dto := FeedbackDTO{FeedbackSubmission: row}
	if row.User != nil {
		dto.SubmitterName = row.User.FullName
		dto.SubmitterEmail = row.User.Email
	}
	dto.User = nil
	return dto
}

func normaliseFilter(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "all" {
		return ""
	}
	return value
}

func positiveOrNil(value *int) *int {
	if value == nil || *value <= 0 {
		return nil
	}
	v := *value
	return &v
}
