// Package feed keeps a user's notification feed in memory: the newest entries, an
// unread counter, the realtime subscription that prepends inserts, and the bridge
// that mirrors inserts as native notifications.
package feed

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// DefaultLimit is how many notifications Load fetches.
const DefaultLimit = 50

// ErrClosed is returned by mutations on a controller that has been closed.
var ErrClosed = errors.New("feed: controller closed")

// State is a copy of the feed at one point in time.
type State struct {
	Items       []backend.Notification
	UnreadCount int
	Loaded      bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLimit overrides how many entries Load requests.
func WithLimit(limit int) Option {
	return func(c *Controller) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithLogger sets the logger used for swallowed load failures.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOnChange registers a callback invoked with a fresh State after every change.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithSessionSync makes the controller apply read, delete and clear events made by
// other sessions of the same user, so their unread counters stay equal.
func WithSessionSync() Option {
	return func(c *Controller) {
		c.sessionSync = true
	}
}

// WithNow overrides the clock used to stamp optimistic reads.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

type changeKind int

const (
	changeInsert changeKind = iota
	changeRead
	changeReadAll
	changeDelete
	changeClear
)

// change is a local mutation made while a Load was in flight. Load replays it over the
// fetched entries, which were read before the mutation happened.
type change struct {
	seq  uint64
	kind changeKind
	id   string
	at   time.Time
}

// Controller owns the feed of a single user session.
type Controller struct {
	userID        string
	notifications backend.Notifications
	limit         int
	sessionSync   bool
	log           *zap.Logger
	onChange      func(State)
	now           func() time.Time

	mu      sync.Mutex
	items   []backend.Notification
	unread  int
	loaded  bool
	closed  bool
	loading int
	seq     uint64
	changes []change
}

// NewController builds a controller for userID backed by notifications.
func NewController(userID string, notifications backend.Notifications, opts ...Option) *Controller {
	c := &Controller{
		userID:        strings.TrimSpace(userID),
		notifications: notifications,
		limit:         DefaultLimit,
		log:           logger.WithModule("feed"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("user_id", c.userID))
	return c
}

// UserID returns the user whose feed this is.
func (c *Controller) UserID() string {
	return c.userID
}

// Load fetches the newest entries and replaces the feed with them. A failed fetch is
// logged and leaves an empty feed. Inserts, reads, deletes and clears made while the
// fetch was in flight are replayed over the fetched entries.
func (c *Controller) Load(ctx context.Context) State {
	c.mu.Lock()
	if c.closed {
		state := c.stateLocked()
		c.mu.Unlock()
		return state
	}
	startSeq := c.seq
	c.loading++
	c.mu.Unlock()

	var fetched []backend.Notification
	var err error
	if c.notifications == nil || c.userID == "" {
		err = errors.New("feed: no backend or user")
	} else {
		fetched, err = c.notifications.List(ctx, c.userID, c.limit)
	}
	if err != nil {
		c.log.Warn("load notifications failed", zap.Error(err))
		fetched = nil
	}

	c.mu.Lock()
	c.loading--
	if c.closed {
		state := c.stateLocked()
		c.mu.Unlock()
		return state
	}

	merged := c.replayLocked(fetched, startSeq)
	sortNewestFirst(merged)

	c.items = merged
	c.unread = countUnread(merged)
	c.loaded = true
	if c.loading == 0 {
		c.changes = nil
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return state
}

// MarkRead marks one entry read. It is a no-op for entries that are already read or
// not in the feed, so repeated calls never move the counter more than once.
func (c *Controller) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.markReadLocked(id) {
		c.mu.Unlock()
		return nil
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return c.write(func() error { return c.notifications.MarkRead(ctx, c.userID, id) })
}

// MarkAllRead marks every entry read and resets the counter.
func (c *Controller) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.markAllReadLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return c.write(func() error { return c.notifications.MarkAllRead(ctx, c.userID) })
}

// Delete removes one entry, decrementing the counter when it was unread.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.removeLocked(id)
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return c.write(func() error { return c.notifications.Delete(ctx, c.userID, id) })
}

// ClearAll empties the feed and resets the counter.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.clearLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return c.write(func() error { return c.notifications.ClearAll(ctx, c.userID) })
}

// HandleInsert prepends a pushed notification and increments the counter by one.
// Entries already in the feed are ignored. It reports whether the feed changed.
func (c *Controller) HandleInsert(n backend.Notification) bool {
	c.mu.Lock()
	if c.closed || n.ID == "" {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.findLocked(n.ID); ok {
		c.mu.Unlock()
		return false
	}
	c.items = append([]backend.Notification{n}, c.items...)
	c.unread++
	c.recordLocked(changeInsert, n.ID, time.Time{})
	state := c.stateLocked()
	c.mu.Unlock()

	c.emit(state)
	return true
}

// HandleEvent applies a change-feed event. Inserts are always applied; read, delete
// and clear events only with WithSessionSync.
func (c *Controller) HandleEvent(event backend.Event) bool {
	if event.Name == realtime.EventNotificationCreated {
		if event.Notification == nil {
			return false
		}
		return c.HandleInsert(*event.Notification)
	}
	if !c.sessionSync {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	changed := false
	switch event.Name {
	case realtime.EventNotificationRead:
		changed = c.markReadLocked(event.NotificationID)
	case realtime.EventNotificationsReadAll:
		changed = c.unread > 0
		c.markAllReadLocked()
	case realtime.EventNotificationDeleted:
		changed = c.removeLocked(event.NotificationID)
	case realtime.EventNotificationsCleared:
		changed = len(c.items) > 0
		c.clearLocked()
	}
	state := c.stateLocked()
	c.mu.Unlock()

	if changed {
		c.emit(state)
	}
	return changed
}

// Snapshot returns a copy of the current feed.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// UnreadCount returns the local unread counter.
func (c *Controller) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Close stops the controller from applying any further results or events.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.changes = nil
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsUrgent reports whether an entry carries the urgent badge.
func IsUrgent(n backend.Notification) bool {
	return n.Priority == models.PriorityUrgent
}

func (c *Controller) write(call func() error) error {
	if c.notifications == nil {
		return backend.ErrTransport
	}
	return call()
}

func (c *Controller) markReadLocked(id string) bool {
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		if c.items[i].Read {
			return false
		}
		readAt := c.now()
		c.items[i].Read = true
		c.items[i].ReadAt = &readAt
		c.decrementLocked()
		c.recordLocked(changeRead, id, readAt)
		return true
	}
	return false
}

func (c *Controller) markAllReadLocked() {
	readAt := c.now()
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			c.items[i].ReadAt = &readAt
		}
	}
	c.unread = 0
	c.recordLocked(changeReadAll, "", readAt)
}

func (c *Controller) removeLocked(id string) bool {
	c.recordLocked(changeDelete, id, time.Time{})
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		if !c.items[i].Read {
			c.decrementLocked()
		}
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		return true
	}
	return false
}

func (c *Controller) clearLocked() {
	c.items = nil
	c.unread = 0
	c.recordLocked(changeClear, "", time.Time{})
}

func (c *Controller) decrementLocked() {
	if c.unread > 0 {
		c.unread--
	}
}

func (c *Controller) findLocked(id string) (backend.Notification, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return backend.Notification{}, false
}

// recordLocked logs a mutation for in-flight loads. Nothing is kept while no load runs.
func (c *Controller) recordLocked(kind changeKind, id string, at time.Time) {
	if c.loading == 0 {
		return
	}
	c.seq++
	c.changes = append(c.changes, change{seq: c.seq, kind: kind, id: id, at: at})
}

// replayLocked applies the changes logged after startSeq, in order, to fetched.
func (c *Controller) replayLocked(fetched []backend.Notification, startSeq uint64) []backend.Notification {
	merged := make([]backend.Notification, 0, len(fetched))
	index := make(map[string]int, len(fetched))
	for _, item := range fetched {
		if _, dup := index[item.ID]; dup {
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	remove := func(id string) {
		i, ok := index[id]
		if !ok {
			return
		}
		merged = append(merged[:i:i], merged[i+1:]...)
		delete(index, id)
		for j := i; j < len(merged); j++ {
			index[merged[j].ID] = j
		}
	}

	for _, ch := range c.changes {
		if ch.seq <= startSeq {
			continue
		}
		switch ch.kind {
		case changeInsert:
			if _, ok := index[ch.id]; ok {
				continue
			}
			if item, ok := c.findLocked(ch.id); ok {
				index[item.ID] = len(merged)
				merged = append(merged, item)
			}
		case changeRead:
			if i, ok := index[ch.id]; ok && !merged[i].Read {
				at := ch.at
				merged[i].Read = true
				merged[i].ReadAt = &at
			}
		case changeReadAll:
			for i := range merged {
				if !merged[i].Read {
					at := ch.at
					merged[i].Read = true
					merged[i].ReadAt = &at
				}
			}
		case changeDelete:
			remove(ch.id)
		case changeClear:
			merged = merged[:0]
			index = make(map[string]int)
		}
	}
	return merged
}

func (c *Controller) stateLocked() State {
	items := make([]backend.Notification, len(c.items))
	copy(items, c.items)
	return State{Items: items, UnreadCount: c.unread, Loaded: c.loaded}
}

func (c *Controller) emit(state State) {
	if c.onChange != nil {
		c.onChange(state)
	}
}

func countUnread(items []backend.Notification) int {
	total := 0
	for _, item := range items {
		if !item.Read {
			total++
		}
	}
	return total
}

func sortNewestFirst(items []backend.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
