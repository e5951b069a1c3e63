package forms

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// FilterAll disables a review filter.
const FilterAll = "all"

// QuickStatuses are the one-click transitions offered for a selected submission.
var QuickStatuses = []string{
	models.FeedbackStatusReviewed,
	models.FeedbackStatusInProgress,
	models.FeedbackStatusCompleted,
}

var (
	// ErrNothingSelected is returned by Respond without a selected submission.
	ErrNothingSelected = errors.New("forms: no feedback selected")
	// ErrUnknownFilter is returned for a filter value outside the closed set.
	ErrUnknownFilter = errors.New("forms: unknown filter value")
	// ErrUnsupportedStatus is returned for a status that is not a quick action.
	ErrUnsupportedStatus = errors.New("forms: status is not a review action")
)

// ReviewConsole is the administrators' view of a school's feedback.
type ReviewConsole struct {
	feedback backend.Feedback
	schoolID string
	adminID  string
	log      *zap.Logger

	mu       sync.Mutex
	status   string
	category string
	items    []backend.FeedbackItem
	selected *backend.FeedbackItem
	response string
	notes    string
}

// NewReviewConsole starts with both filters set to FilterAll.
func NewReviewConsole(feedback backend.Feedback, schoolID, adminID string) *ReviewConsole {
	return &ReviewConsole{
		feedback: feedback,
		schoolID: strings.TrimSpace(schoolID),
		adminID:  strings.TrimSpace(adminID),
		log:      logger.WithModule("forms.review"),
		status:   FilterAll,
		category: FilterAll,
	}
}

// SetStatusFilter narrows the listing to one status. Call Refresh to apply it.
func (c *ReviewConsole) SetStatusFilter(status string) error {
	status = normaliseFilter(status)
	if status != FilterAll && !contains(models.FeedbackStatuses, status) {
		return ErrUnknownFilter
	}
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return nil
}

// SetCategoryFilter narrows the listing to one category. Call Refresh to apply it.
func (c *ReviewConsole) SetCategoryFilter(category string) error {
	category = normaliseFilter(category)
	if category != FilterAll && !contains(models.FeedbackCategories, category) {
		return ErrUnknownFilter
	}
	c.mu.Lock()
	c.category = category
	c.mu.Unlock()
	return nil
}

// Filters returns the status and category filters.
func (c *ReviewConsole) Filters() (status, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.category
}

// Refresh lists submissions matching the filters, newest first. On failure the
// previous listing is kept.
func (c *ReviewConsole) Refresh(ctx context.Context) ([]backend.FeedbackItem, error) {
	if c.feedback == nil {
		return nil, backend.ErrTransport
	}
	status, category := c.Filters()
	items, err := c.feedback.ListFeedback(ctx, backend.FeedbackQuery{
		SchoolID: c.schoolID,
		Status:   status,
		Category: category,
	})
	if err != nil {
		c.log.Warn("load feedback failed", zap.Error(err))
		return c.Items(), err
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return append([]backend.FeedbackItem(nil), items...), nil
}

// Items returns the current listing.
func (c *ReviewConsole) Items() []backend.FeedbackItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.FeedbackItem(nil), c.items...)
}

// Select opens a submission from the listing and clears the response drafts.
func (c *ReviewConsole) Select(id string) (backend.FeedbackItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			item := c.items[i]
			c.selected = &item
			c.response = ""
			c.notes = ""
			return item, true
		}
	}
	return backend.FeedbackItem{}, false
}

// Selected returns the open submission.
func (c *ReviewConsole) Selected() (backend.FeedbackItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return backend.FeedbackItem{}, false
	}
	return *c.selected, true
}

// Deselect closes the detail view without saving.
func (c *ReviewConsole) Deselect() {
	c.mu.Lock()
	c.selected = nil
	c.response = ""
	c.notes = ""
	c.mu.Unlock()
}

// SetResponse drafts the reply shown to the submitter.
func (c *ReviewConsole) SetResponse(text string) {
	c.mu.Lock()
	c.response = text
	c.mu.Unlock()
}

// SetNotes drafts internal notes.
func (c *ReviewConsole) SetNotes(text string) {
	c.mu.Lock()
	c.notes = text
	c.mu.Unlock()
}

// Respond moves the selected submission to status and stores the drafted response
// and notes; empty drafts clear the stored values. On success the selection is
// closed and the listing refreshed.
func (c *ReviewConsole) Respond(ctx context.Context, status string) (*backend.FeedbackItem, error) {
	if !contains(QuickStatuses, status) {
		return nil, ErrUnsupportedStatus
	}
	if c.feedback == nil {
		return nil, backend.ErrTransport
	}

	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return nil, ErrNothingSelected
	}
	id := c.selected.ID
	response := strings.TrimSpace(c.response)
	notes := strings.TrimSpace(c.notes)
	c.mu.Unlock()

	updated, err := c.feedback.Respond(ctx, services.RespondFeedbackInput{
		ID:            id,
		SchoolID:      c.schoolID,
		AdminID:       c.adminID,
		Status:        status,
		AdminResponse: &response,
		AdminNotes:    &notes,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.selected != nil && c.selected.ID == id {
		c.selected = nil
		c.response = ""
		c.notes = ""
	}
	c.mu.Unlock()

	if _, err := c.Refresh(ctx); err != nil {
		c.log.Debug("refresh after respond failed", zap.Error(err))
	}
	return updated, nil
}

// Analytics reads the current month's rollup. A month without submissions has no
// row and yields nil without an error.
func (c *ReviewConsole) Analytics(ctx context.Context) (*backend.Analytics, error) {
	if c.feedback == nil {
		return nil, backend.ErrTransport
	}
	analytics, err := c.feedback.CurrentAnalytics(ctx, c.schoolID)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		c.log.Warn("load feedback analytics failed", zap.Error(err))
		return nil, err
	}
	return analytics, nil
}

func normaliseFilter(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return FilterAll
	}
	return value
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
