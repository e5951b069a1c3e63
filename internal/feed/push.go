package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// Permission is the platform's native notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// PushIcon is shown next to every mirrored notification.
const PushIcon = "/logo.png"

// ErrPermissionDenied means the platform blocked notifications for this session.
var ErrPermissionDenied = errors.New("feed: notification permission denied")

// PermissionSource is the platform's permission capability. The application reads it
// and may ask once; it never owns the state.
type PermissionSource interface {
	State() Permission
	Request(ctx context.Context) (Permission, error)
}

// Notifier displays a native notification.
type Notifier interface {
	Show(title, body, icon string) error
}

// RequestPermission asks the platform only while the permission is still undecided.
// A denied permission is terminal and yields ErrPermissionDenied.
func RequestPermission(ctx context.Context, source PermissionSource) (Permission, error) {
	if source == nil {
		return PermissionDenied, ErrPermissionDenied
	}
	switch state := source.State(); state {
	case PermissionGranted:
		return state, nil
	case PermissionDenied:
		return state, ErrPermissionDenied
	}

	state, err := source.Request(ctx)
	if err != nil {
		return source.State(), err
	}
	if state == PermissionDenied {
		return state, ErrPermissionDenied
	}
	return state, nil
}

// PushBridge mirrors inserted notifications as native notifications when the user
// enabled push and the platform granted permission.
type PushBridge struct {
	permission PermissionSource
	notifier   Notifier
	log        *zap.Logger

	mu      sync.RWMutex
	enabled bool
}

// NewPushBridge returns a disabled bridge.
func NewPushBridge(permission PermissionSource, notifier Notifier) *PushBridge {
	return &PushBridge{
		permission: permission,
		notifier:   notifier,
		log:        logger.WithModule("push"),
	}
}

// SetEnabled follows the push_enabled preference.
func (b *PushBridge) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// Enabled reports the push_enabled preference last applied.
func (b *PushBridge) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// Permission returns the current platform permission.
func (b *PushBridge) Permission() Permission {
	if b.permission == nil {
		return PermissionDenied
	}
	return b.permission.State()
}

// RequestPermission forwards to the platform while the permission is undecided.
func (b *PushBridge) RequestPermission(ctx context.Context) (Permission, error) {
	return RequestPermission(ctx, b.permission)
}

// Mirror shows n natively and reports whether it was displayed. Display failures are
// logged only.
func (b *PushBridge) Mirror(n backend.Notification) bool {
	if b == nil || b.notifier == nil || !b.Enabled() || b.Permission() != PermissionGranted {
		return false
	}
	if err := b.notifier.Show(n.Title, n.Message, PushIcon); err != nil {
		b.log.Warn("show native notification failed", zap.String("notification_id", n.ID), zap.Error(err))
		return false
	}
	return true
}

// StaticPermission is a PermissionSource whose Request resolves to a fixed answer.
// Once decided the state never changes again.
type StaticPermission struct {
	mu     sync.Mutex
	state  Permission
	answer Permission
}

// NewStaticPermission starts in state and resolves a request to answer.
func NewStaticPermission(state, answer Permission) *StaticPermission {
	if state == "" {
		state = PermissionDefault
	}
	return &StaticPermission{state: state, answer: answer}
}

func (p *StaticPermission) State() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *StaticPermission) Request(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return p.State(), err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PermissionDefault {
		switch p.answer {
		case PermissionGranted, PermissionDenied:
			p.state = p.answer
		}
	}
	return p.state, nil
}
