package services

import (
	"context"
	"sync"

	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/pkg/mail"
)

type sentMessage struct {
	stream  string
	userID  string
	message realtime.Message
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingBroadcaster) BroadcastToUser(stream, userID string, message realtime.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{stream: stream, userID: userID, message: message})
}

func (r *recordingBroadcaster) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.message.Event)
	}
	return out
}

func (r *recordingBroadcaster) recipients(event string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.message.Event == event {
			out = append(out, s.userID)
		}
	}
	return out
}

type channelDispatcher struct {
	ch chan NotificationDTO
}

func newChannelDispatcher() *channelDispatcher {
	return &channelDispatcher{ch: make(chan NotificationDTO, 16)}
}

func (d *channelDispatcher) Dispatch(_ context.Context, n NotificationDTO) error {
	d.ch <- n
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
