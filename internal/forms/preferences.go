// Package forms holds the editing state behind the preference form, the feedback
// intake form and the administrators' review console.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/feed"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/validator"
)

// ErrBusy is returned when an operation is started while another one is in flight.
var ErrBusy = errors.New("forms: operation already in progress")

// PushControl is how the push toggle should be presented.
type PushControl string

const (
	// PushControlRequest offers the explicit permission request.
	PushControlRequest PushControl = "request"
	// PushControlToggle shows the push_enabled switch.
	PushControlToggle PushControl = "toggle"
	// PushControlBlocked shows that the platform blocked notifications.
	PushControlBlocked PushControl = "blocked"
	// PushControlUnsupported hides push entirely.
	PushControlUnsupported PushControl = "unsupported"
)

// PreferenceOption configures a PreferenceForm.
type PreferenceOption func(*PreferenceForm)

// WithPermission sets the platform permission used for push.
func WithPermission(source feed.PermissionSource) PreferenceOption {
	return func(f *PreferenceForm) {
		f.permission = source
	}
}

// WithBridge keeps bridge in step with the saved push_enabled value.
func WithBridge(bridge *feed.PushBridge) PreferenceOption {
	return func(f *PreferenceForm) {
		f.bridge = bridge
	}
}

// PreferenceForm edits a copy of the user's notification preferences. The
// authoritative copy only changes after the backend accepted a save.
type PreferenceForm struct {
	userID     string
	settings   backend.Settings
	permission feed.PermissionSource
	bridge     *feed.PushBridge
	log        *zap.Logger

	mu      sync.Mutex
	current backend.Preferences
	draft   backend.Preferences
	exists  bool
	saving  bool
}

// NewPreferenceForm starts from the default preferences until Load runs.
func NewPreferenceForm(userID string, settings backend.Settings, opts ...PreferenceOption) *PreferenceForm {
	defaults := services.DefaultNotificationSettings()
	f := &PreferenceForm{
		userID:   strings.TrimSpace(userID),
		settings: settings,
		log:      logger.WithModule("forms.preferences"),
		current:  defaults,
		draft:    defaults,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load reads the stored record. Without one, or when the read fails, the form keeps
// the defaults; a failure is logged and returned.
func (f *PreferenceForm) Load(ctx context.Context) error {
	if f.settings == nil {
		return backend.ErrTransport
	}
	prefs, found, err := f.settings.Get(ctx, f.userID)
	if err != nil {
		f.log.Warn("load preferences failed", zap.String("user_id", f.userID), zap.Error(err))
		return err
	}

	f.mu.Lock()
	f.current = prefs
	f.draft = prefs
	f.exists = found
	f.mu.Unlock()

	f.syncBridge(prefs)
	return nil
}

// Current returns the last saved preferences.
func (f *PreferenceForm) Current() backend.Preferences {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Draft returns the preferences being edited.
func (f *PreferenceForm) Draft() backend.Preferences {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// Exists reports whether a stored record backs Current.
func (f *PreferenceForm) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

// Dirty reports whether the draft differs from the saved preferences.
func (f *PreferenceForm) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft != f.current
}

// Update edits the draft in place.
func (f *PreferenceForm) Update(edit func(*backend.Preferences)) {
	f.mu.Lock()
	edit(&f.draft)
	f.mu.Unlock()
}

// Reset discards draft edits.
func (f *PreferenceForm) Reset() {
	f.mu.Lock()
	f.draft = f.current
	f.mu.Unlock()
}

// Save upserts the draft. On failure the saved copy is untouched and the draft kept
// for another attempt.
func (f *PreferenceForm) Save(ctx context.Context) (backend.Preferences, error) {
	f.mu.Lock()
	draft := f.draft
	f.mu.Unlock()
	return f.save(ctx, draft)
}

// RequestPushPermission asks the platform for notification permission when it is
// still undecided. A grant switches push on and saves that immediately.
func (f *PreferenceForm) RequestPushPermission(ctx context.Context) (feed.Permission, error) {
	if f.permission == nil {
		return feed.PermissionDenied, feed.ErrPermissionDenied
	}
	state, err := feed.RequestPermission(ctx, f.permission)
	if err != nil || state != feed.PermissionGranted {
		return state, err
	}

	f.mu.Lock()
	alreadyOn := f.current.PushEnabled && f.exists
	f.draft.PushEnabled = true
	draft := f.draft
	f.mu.Unlock()

	if alreadyOn {
		return state, nil
	}
	if _, err := f.save(ctx, draft); err != nil {
		return state, err
	}
	return state, nil
}

// PushControl maps the platform permission to the control to render.
func (f *PreferenceForm) PushControl() PushControl {
	if f.permission == nil {
		return PushControlUnsupported
	}
	switch f.permission.State() {
	case feed.PermissionGranted:
		return PushControlToggle
	case feed.PermissionDenied:
		return PushControlBlocked
	default:
		return PushControlRequest
	}
}

func (f *PreferenceForm) save(ctx context.Context, prefs backend.Preferences) (backend.Preferences, error) {
	if err := ValidatePreferences(prefs); err != nil {
		return backend.Preferences{}, err
	}
	if f.settings == nil {
		return backend.Preferences{}, backend.ErrTransport
	}

	f.mu.Lock()
	if f.saving {
		f.mu.Unlock()
		return backend.Preferences{}, ErrBusy
	}
	f.saving = true
	f.mu.Unlock()

	saved, err := f.settings.Upsert(ctx, f.userID, prefs)

	f.mu.Lock()
	f.saving = false
	if err != nil {
		f.mu.Unlock()
		return backend.Preferences{}, err
	}
	f.current = saved
	f.draft = saved
	f.exists = true
	f.mu.Unlock()

	f.syncBridge(saved)
	return saved, nil
}

func (f *PreferenceForm) syncBridge(prefs backend.Preferences) {
	if f.bridge != nil {
		f.bridge.SetEnabled(prefs.PushEnabled)
	}
}

// ValidatePreferences checks the constrained fields: the reminder lead time must be
// one of the offered options and quiet hours must be HH:MM.
func ValidatePreferences(prefs backend.Preferences) error {
	valid := false
	for _, days := range services.ReminderAdvanceOptions {
		if prefs.ReminderAdvanceDays == days {
			valid = true
			break
		}
	}
	if !valid {
		return &services.FieldError{
			Field:   "reminder_advance_days",
			Message: fmt.Sprintf("Reminder advance must be one of %v days", services.ReminderAdvanceOptions),
		}
	}
	if !validator.IsTimeOfDay(prefs.QuietHoursStart) {
		return &services.FieldError{Field: "quiet_hours_start", Message: "Quiet hours start must use HH:MM"}
	}
	if !validator.IsTimeOfDay(prefs.QuietHoursEnd) {
		return &services.FieldError{Field: "quiet_hours_end", Message: "Quiet hours end must use HH:MM"}
	}
	return nil
}
