package realtime

import "sync"

// Listener is an in-process subscription to one user's messages on a stream.
type Listener struct {
	hub    *Hub
	userID string
	ch     chan Message
	done   chan struct{}
	once   sync.Once
}

// Listen registers an in-process subscriber. The "subscribed" acknowledgement is the first
// message on C. Slow listeners are dropped and Done is closed.
func (h *Hub) Listen(stream, userID string, buffer int) *Listener {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	l := &Listener{
		hub:    h,
		userID: userID,
		ch:     make(chan Message, buffer),
		done:   make(chan struct{}),
	}
	h.subscribe(l, []string{stream})
	return l
}

// C returns the channel messages are delivered on.
func (l *Listener) C() <-chan Message { return l.ch }

// Done is closed once the listener is shut down, by Close or by the hub.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Close unregisters the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.shutdown()
}

func (l *Listener) owner() string { return l.userID }

func (l *Listener) deliver(message Message) bool {
	select {
	case <-l.done:
		return true
	default:
	}
	select {
	case l.ch <- message:
		return true
	default:
		return false
	}
}

func (l *Listener) shutdown() {
	l.once.Do(func() {
		l.hub.unregister(l)
		close(l.done)
	})
}
