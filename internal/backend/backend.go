// Package backend defines the collaborators the client core talks to: notification
// queries and writes, the settings record, feedback intake and review, and the
// per-user change feed. Local serves them in-process; Remote over HTTP and WebSocket.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
)

type (
	Notification = services.NotificationDTO
	Preferences  = services.NotificationSettings
	FeedbackItem = services.FeedbackDTO
	Analytics    = services.FeedbackAnalyticsDTO
)

// ErrTransport marks failures to reach the backend or server-side faults.
var ErrTransport = errors.New("backend: transport failure")

// ErrSubscriptionLost is reported to a subscriber when its channel goes away.
var ErrSubscriptionLost = errors.New("backend: subscription lost")

// APIError is a request the backend answered with a client error.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.Status, e.Message)
}

// IsRetryable reports whether repeating the call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	return false
}

// Notifications is the query and write surface of the notifications table.
// Every call is scoped to userID.
type Notifications interface {
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, id string) error
	ClearAll(ctx context.Context, userID string) error
}

// Settings reads and upserts the single preferences record of a user.
type Settings interface {
	Get(ctx context.Context, userID string) (Preferences, bool, error)
	Upsert(ctx context.Context, userID string, prefs Preferences) (Preferences, error)
}

// FeedbackQuery narrows a review listing. Empty or "all" disables a filter.
type FeedbackQuery struct {
	SchoolID string
	Status   string
	Category string
}

// Feedback covers submission intake, administrator review and the monthly rollup.
type Feedback interface {
	Submit(ctx context.Context, input services.SubmitFeedbackInput) (*FeedbackItem, error)
	ListFeedback(ctx context.Context, query FeedbackQuery) ([]FeedbackItem, error)
	Respond(ctx context.Context, input services.RespondFeedbackInput) (*FeedbackItem, error)
	CurrentAnalytics(ctx context.Context, schoolID string) (*Analytics, error)
}

// Event is one change on a user's notification stream.
type Event struct {
	Name           string
	Notification   *Notification
	NotificationID string
	Count          int64
}

// Subscription is a live change feed. Close stops callbacks before it returns and
// must not be called from inside a callback.
type Subscription interface {
	Close() error
}

// Changes registers interest in a user's notification changes. Subscribe returns once
// the backend acknowledged the subscription. onEvent receives events in order; onErr
// is called at most once when the channel fails, after which no more events arrive.
type Changes interface {
	Subscribe(ctx context.Context, userID string, onEvent func(Event), onErr func(error)) (Subscription, error)
}

// decodeEvent converts a realtime frame into an Event. Frames from other streams,
// acknowledgements and pongs are skipped.
func decodeEvent(msg realtime.Message) (Event, bool) {
	if msg.Stream != "" && msg.Stream != realtime.StreamNotifications {
		return Event{}, false
	}
	switch msg.Event {
	case realtime.EventSubscribed, realtime.EventPong, "":
		return Event{}, false
	}

	event := Event{Name: msg.Event}
	if msg.Data == nil {
		return event, true
	}

	var payload services.NotificationEventPayload
	switch data := msg.Data.(type) {
	case *services.NotificationEventPayload:
		payload = *data
	case services.NotificationEventPayload:
		payload = data
	default:
		raw, err := json.Marshal(data)
		if err != nil || json.Unmarshal(raw, &payload) != nil {
			return event, true
		}
	}

	event.Notification = payload.Notification
	event.NotificationID = payload.NotificationID
	event.Count = payload.Count
	if event.NotificationID == "" && event.Notification != nil {
		event.NotificationID = event.Notification.ID
	}
	return event, true
}
