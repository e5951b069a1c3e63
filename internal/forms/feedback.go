package forms

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// CloseDelay is how long a submitted form stays open before it hands control back.
const CloseDelay = 2 * time.Second

// FormState is the lifecycle of a FeedbackForm.
type FormState int

const (
	Editing FormState = iota
	Submitting
	Submitted
)

func (s FormState) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	default:
		return "editing"
	}
}

// FeedbackOption configures a FeedbackForm.
type FeedbackOption func(*FeedbackForm)

// WithCategory preselects a category, for example nps_survey for a survey prompt.
func WithCategory(category string) FeedbackOption {
	return func(f *FeedbackForm) {
		f.input.Category = category
	}
}

// WithOnClose registers the callback run once the close delay after a successful
// submit has passed.
func WithOnClose(fn func()) FeedbackOption {
	return func(f *FeedbackForm) {
		f.onClose = fn
	}
}

// WithCloseDelay overrides CloseDelay.
func WithCloseDelay(delay time.Duration) FeedbackOption {
	return func(f *FeedbackForm) {
		if delay >= 0 {
			f.closeDelay = delay
		}
	}
}

// FeedbackForm collects one feedback submission.
type FeedbackForm struct {
	feedback   backend.Feedback
	userID     string
	schoolID   string
	closeDelay time.Duration
	onClose    func()
	log        *zap.Logger

	mu     sync.Mutex
	state  FormState
	input  services.SubmitFeedbackInput
	result *backend.FeedbackItem
	err    error
	timer  *time.Timer
}

// NewFeedbackForm starts an empty form in Editing. The category defaults to general
// feedback.
func NewFeedbackForm(feedback backend.Feedback, userID, schoolID string, opts ...FeedbackOption) *FeedbackForm {
	f := &FeedbackForm{
		feedback:   feedback,
		userID:     strings.TrimSpace(userID),
		schoolID:   strings.TrimSpace(schoolID),
		closeDelay: CloseDelay,
		log:        logger.WithModule("forms.feedback"),
		input:      services.SubmitFeedbackInput{Category: models.FeedbackGeneral},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current lifecycle state.
func (f *FeedbackForm) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the last validation or submit error.
func (f *FeedbackForm) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Input returns the answers entered so far.
func (f *FeedbackForm) Input() services.SubmitFeedbackInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

// Fields returns the inputs shown for the selected category.
func (f *FeedbackForm) Fields() FieldSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FieldsFor(f.input.Category)
}

// Result returns the stored submission once the form reached Submitted.
func (f *FeedbackForm) Result() *backend.FeedbackItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Update edits the answers. Edits are ignored unless the form is Editing.
func (f *FeedbackForm) Update(edit func(*services.SubmitFeedbackInput)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Editing {
		return false
	}
	edit(&f.input)
	return true
}

// Submit validates the answers and sends them. Validation failures never reach the
// backend. On a backend failure the form returns to Editing with the error kept;
// backend.IsRetryable tells whether trying again may help.
func (f *FeedbackForm) Submit(ctx context.Context) (*backend.FeedbackItem, error) {
	f.mu.Lock()
	if f.state != Editing {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	input := stripHidden(f.input)
	input.UserID = f.userID
	input.SchoolID = f.schoolID
	if fieldErr := services.ValidateFeedbackInput(input); fieldErr != nil {
		f.err = fieldErr
		f.mu.Unlock()
		return nil, fieldErr
	}
	if f.feedback == nil {
		f.err = backend.ErrTransport
		f.mu.Unlock()
		return nil, backend.ErrTransport
	}
	f.state = Submitting
	f.err = nil
	f.mu.Unlock()

	item, err := f.feedback.Submit(ctx, input)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = Editing
		f.err = err
		f.log.Warn("submit feedback failed", zap.String("category", input.Category), zap.Error(err))
		return nil, err
	}
	f.state = Submitted
	f.result = item
	if f.onClose != nil {
		f.timer = time.AfterFunc(f.closeDelay, f.onClose)
	}
	return item, nil
}

// Close cancels a pending auto-close.
func (f *FeedbackForm) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
