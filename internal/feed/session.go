package feed

import (
	"context"

	"github.com/charlesng35/schoolx/internal/backend"
)

// Backend is what a mounted feed needs from the server.
type Backend interface {
	backend.Notifications
	backend.Changes
}

// Session is a mounted feed: a controller plus its change channel.
type Session struct {
	Controller *Controller
	Subscriber *Subscriber
}

// Mount loads the feed for userID and subscribes to its inserts. A failed
// subscription leaves the loaded feed usable and is returned alongside the session.
func Mount(ctx context.Context, userID string, be Backend, bridge *PushBridge, opts ...Option) (*Session, error) {
	controller := NewController(userID, be, opts...)
	subscriberOpts := []SubscriberOption{}
	if bridge != nil {
		subscriberOpts = append(subscriberOpts, WithPushBridge(bridge))
	}
	session := &Session{
		Controller: controller,
		Subscriber: NewSubscriber(be, controller, subscriberOpts...),
	}

	// Subscribe first so inserts racing the initial load are merged, not lost.
	subErr := session.Subscriber.Start(ctx)
	controller.Load(ctx)
	return session, subErr
}

// Unmount closes the channel and stops the controller from applying late results.
func (s *Session) Unmount() error {
	if s == nil {
		return nil
	}
	var err error
	if s.Subscriber != nil {
		err = s.Subscriber.Close()
	}
	if s.Controller != nil {
		s.Controller.Close()
	}
	return err
}
