package feed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// SubscriptionState is the lifecycle of a Subscriber.
type SubscriptionState int

const (
	Disconnected SubscriptionState = iota
	Subscribing
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

var (
	// ErrNoUser is returned when Start is called without a user id.
	ErrNoUser = errors.New("feed: user id is required to subscribe")
	// ErrAlreadyStarted is returned when Start is called while subscribing or subscribed.
	ErrAlreadyStarted = errors.New("feed: subscriber already started")
)

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithPushBridge mirrors inserted notifications through bridge.
func WithPushBridge(bridge *PushBridge) SubscriberOption {
	return func(s *Subscriber) {
		s.bridge = bridge
	}
}

// WithStateChange registers a callback invoked on every state transition.
func WithStateChange(fn func(SubscriptionState, error)) SubscriberOption {
	return func(s *Subscriber) {
		s.onState = fn
	}
}

// WithSubscriberLogger sets the logger used for subscription failures.
func WithSubscriberLogger(log *zap.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if log != nil {
			s.log = log
		}
	}
}

// Subscriber holds the single change channel of a feed controller. A failed channel
// is not retried; Start must be called again, which subscribes from scratch.
type Subscriber struct {
	changes    backend.Changes
	controller *Controller
	bridge     *PushBridge
	onState    func(SubscriptionState, error)
	log        *zap.Logger

	mu    sync.Mutex
	state SubscriptionState
	sub   backend.Subscription
	gen   uint64
	err   error
}

// NewSubscriber wires changes into controller.
func NewSubscriber(changes backend.Changes, controller *Controller, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		changes:    changes,
		controller: controller,
		log:        logger.WithModule("feed.subscriber"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Subscriber) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that caused the last transition to Disconnected, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the channel for the controller's user and blocks until the backend
// acknowledged it. On failure the subscriber is back in Disconnected.
func (s *Subscriber) Start(ctx context.Context) error {
	userID := ""
	if s.controller != nil {
		userID = strings.TrimSpace(s.controller.UserID())
	}
	if userID == "" {
		return ErrNoUser
	}
	if s.changes == nil {
		return backend.ErrTransport
	}

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	stale := s.sub
	s.sub = nil
	s.gen++
	gen := s.gen
	s.state = Subscribing
	s.err = nil
	s.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	s.notify(Subscribing, nil)

	sub, err := s.changes.Subscribe(ctx, userID,
		func(event backend.Event) { s.handleEvent(gen, event) },
		func(err error) { s.handleError(gen, err) },
	)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return ErrClosed
	}
	if err != nil {
		s.state = Disconnected
		s.err = err
		s.mu.Unlock()
		s.log.Warn("subscribe failed", zap.String("user_id", userID), zap.Error(err))
		s.notify(Disconnected, err)
		return err
	}
	s.sub = sub
	if s.state != Subscribing {
		// The channel already failed between the acknowledgement and now.
		lastErr := s.err
		s.mu.Unlock()
		return lastErr
	}
	s.state = Subscribed
	s.mu.Unlock()

	s.notify(Subscribed, nil)
	return nil
}

// Close tears the channel down. No event is applied after Close returns. It must not
// be called from a state-change callback.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.gen++
	wasConnected := s.state != Disconnected
	s.state = Disconnected
	s.err = nil
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	if wasConnected {
		s.notify(Disconnected, nil)
	}
	return err
}

func (s *Subscriber) handleEvent(gen uint64, event backend.Event) {
	s.mu.Lock()
	live := s.gen == gen && s.state != Disconnected
	s.mu.Unlock()
	if !live || s.controller == nil {
		return
	}

	if s.controller.HandleEvent(event) && event.Name == realtime.EventNotificationCreated && event.Notification != nil {
		s.bridge.Mirror(*event.Notification)
	}
}

// handleError runs on the channel's goroutine, so the subscription itself is
// released by the next Start or Close.
func (s *Subscriber) handleError(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.err = err
	s.mu.Unlock()

	s.log.Warn("subscription lost", zap.Error(err))
	s.notify(Disconnected, err)
}

func (s *Subscriber) notify(state SubscriptionState, err error) {
	if s.onState != nil {
		s.onState(state, err)
	}
}
