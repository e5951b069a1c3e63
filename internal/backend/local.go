package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
)

const listenerBuffer = 64

var (
	_ Notifications = (*Local)(nil)
	_ Settings      = (*Local)(nil)
	_ Feedback      = (*Local)(nil)
	_ Changes       = (*Local)(nil)
)

// Local serves the client core from in-process services and the realtime hub.
type Local struct {
	notifications *services.NotificationService
	settings      *services.NotificationSettingsService
	feedback      *services.FeedbackService
	analytics     *services.FeedbackAnalyticsService
	hub           *realtime.Hub
	now           func() time.Time
}

// LocalServices are the services Local delegates to. Nil members make the
// matching calls fail with ErrTransport.
type LocalServices struct {
	Notifications *services.NotificationService
	Settings      *services.NotificationSettingsService
	Feedback      *services.FeedbackService
	Analytics     *services.FeedbackAnalyticsService
	Hub           *realtime.Hub
}

func NewLocal(svc LocalServices) *Local {
	return &Local{
		notifications: svc.Notifications,
		settings:      svc.Settings,
		feedback:      svc.Feedback,
		analytics:     svc.Analytics,
		hub:           svc.Hub,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var errUnavailable = errors.Join(ErrTransport, errors.New("service not configured"))

func (l *Local) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if l.notifications == nil {
		return nil, errUnavailable
	}
	items, err := l.notifications.ListForUser(ctx, services.ListNotificationsInput{UserID: userID, Limit: limit})
	return items, translate(err)
}

func (l *Local) MarkRead(ctx context.Context, userID, id string) error {
	if l.notifications == nil {
		return errUnavailable
	}
	_, err := l.notifications.MarkRead(ctx, userID, id)
	return translate(err)
}

func (l *Local) MarkAllRead(ctx context.Context, userID string) error {
	if l.notifications == nil {
		return errUnavailable
	}
	_, err := l.notifications.MarkAllRead(ctx, userID)
	return translate(err)
}

func (l *Local) Delete(ctx context.Context, userID, id string) error {
	if l.notifications == nil {
		return errUnavailable
	}
	return translate(l.notifications.Delete(ctx, userID, id))
}

func (l *Local) ClearAll(ctx context.Context, userID string) error {
	if l.notifications == nil {
		return errUnavailable
	}
	_, err := l.notifications.ClearAll(ctx, userID)
	return translate(err)
}

func (l *Local) Get(ctx context.Context, userID string) (Preferences, bool, error) {
	if l.settings == nil {
		return Preferences{}, false, errUnavailable
	}
	prefs, found, err := l.settings.Get(ctx, userID)
	return prefs, found, translate(err)
}

func (l *Local) Upsert(ctx context.Context, userID string, prefs Preferences) (Preferences, error) {
	if l.settings == nil {
		return Preferences{}, errUnavailable
	}
	saved, err := l.settings.Upsert(ctx, userID, prefs)
	return saved, translate(err)
}

func (l *Local) Submit(ctx context.Context, input services.SubmitFeedbackInput) (*FeedbackItem, error) {
	if l.feedback == nil {
		return nil, errUnavailable
	}
	item, err := l.feedback.Submit(ctx, input)
	return item, translate(err)
}

func (l *Local) ListFeedback(ctx context.Context, query FeedbackQuery) ([]FeedbackItem, error) {
	if l.feedback == nil {
		return nil, errUnavailable
	}
	items, err := l.feedback.List(ctx, services.FeedbackFilter{
		SchoolID: query.SchoolID,
		Status:   query.Status,
		Category: query.Category,
	})
	return items, translate(err)
}

func (l *Local) Respond(ctx context.Context, input services.RespondFeedbackInput) (*FeedbackItem, error) {
	if l.feedback == nil {
		return nil, errUnavailable
	}
	item, err := l.feedback.Respond(ctx, input)
	return item, translate(err)
}

func (l *Local) CurrentAnalytics(ctx context.Context, schoolID string) (*Analytics, error) {
	if l.analytics == nil {
		return nil, errUnavailable
	}
	dto, err := l.analytics.Current(ctx, schoolID, l.now())
	return dto, translate(err)
}

// Subscribe listens on the hub for userID's notification stream.
func (l *Local) Subscribe(ctx context.Context, userID string, onEvent func(Event), onErr func(error)) (Subscription, error) {
	if l.hub == nil {
		return nil, errUnavailable
	}
	listener := l.hub.Listen(realtime.StreamNotifications, userID, listenerBuffer)

	select {
	case msg := <-listener.C():
		if msg.Event != realtime.EventSubscribed {
			listener.Close()
			return nil, errors.Join(ErrTransport, errors.New("unexpected first frame "+msg.Event))
		}
	case <-listener.Done():
		return nil, ErrSubscriptionLost
	case <-ctx.Done():
		listener.Close()
		return nil, ctx.Err()
	}

	sub := &localSubscription{listener: listener, stop: make(chan struct{}), done: make(chan struct{})}
	go sub.run(onEvent, onErr)
	return sub, nil
}

type localSubscription struct {
	listener *realtime.Listener
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (s *localSubscription) run(onEvent func(Event), onErr func(error)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.listener.C():
			if event, ok := decodeEvent(msg); ok && onEvent != nil {
				onEvent(event)
			}
		case <-s.listener.Done():
			select {
			case <-s.stop:
			default:
				if onErr != nil {
					onErr(ErrSubscriptionLost)
				}
			}
			return
		}
	}
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.listener.Close()
	})
	<-s.done
	return nil
}

// translate keeps client errors as APIError and marks everything else as transport.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode < 500 {
		return &APIError{Status: appErr.StatusCode, Code: appErr.Code, Message: appErr.Message}
	}
	return errors.Join(ErrTransport, err)
}
