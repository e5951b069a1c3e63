package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/feed"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
)

type fakeNotifications struct {
	mu       sync.Mutex
	items    []backend.Notification
	listErr  error
	writeErr error
	gate     chan struct{}
	entered  chan struct{}
	calls    []string
}

func (f *fakeNotifications) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.writeErr
}

func (f *fakeNotifications) List(ctx context.Context, _ string, limit int) ([]backend.Notification, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]backend.Notification(nil), f.items...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeNotifications) MarkRead(context.Context, string, string) error {
	return f.record("mark_read")
}

func (f *fakeNotifications) MarkAllRead(context.Context, string) error {
	return f.record("mark_all_read")
}

func (f *fakeNotifications) Delete(context.Context, string, string) error {
	return f.record("delete")
}

func (f *fakeNotifications) ClearAll(context.Context, string) error {
	return f.record("clear_all")
}

func (f *fakeNotifications) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, call := range f.calls {
		if call == name {
			total++
		}
	}
	return total
}

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func note(id string, minutes int, read bool) backend.Notification {
	return backend.Notification{
		ID:        id,
		UserID:    "user-1",
		Type:      models.NotificationAnnouncement,
		Title:     "Notice " + id,
		Priority:  models.PriorityMedium,
		Read:      read,
		CreatedAt: baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func ids(items []backend.Notification) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestLoadReturnsNewestFirstWithUnreadCount(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false), note("c", 3, true), note("b", 2, false)}}
	c := feed.NewController("user-1", store)

	state := c.Load(context.Background())
	require.True(t, state.Loaded)
	require.Equal(t, []string{"c", "b", "a"}, ids(state.Items))
	require.Equal(t, 2, state.UnreadCount)
}

func TestLoadFailureYieldsEmptyFeed(t *testing.T) {
	store := &fakeNotifications{listErr: backend.ErrTransport}
	c := feed.NewController("user-1", store)
	c.HandleInsert(note("stale", 1, false))

	state := c.Load(context.Background())
	require.True(t, state.Loaded)
	require.Empty(t, state.Items)
	require.Zero(t, state.UnreadCount)
}

func TestMarkReadDecrementsAtMostOnce(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false), note("b", 2, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, c.MarkRead(context.Background(), "a"))
		require.Equal(t, 1, c.UnreadCount())
	}
	require.Equal(t, 1, store.callCount("mark_read"))

	require.NoError(t, c.MarkRead(context.Background(), "unknown"))
	require.Equal(t, 1, c.UnreadCount())

	require.NoError(t, c.MarkRead(context.Background(), "b"))
	require.NoError(t, c.MarkRead(context.Background(), "b"))
	require.Zero(t, c.UnreadCount())

	state := c.Snapshot()
	for _, item := range state.Items {
		require.True(t, item.Read)
		require.NotNil(t, item.ReadAt)
	}
}

func TestConcurrentMarkReadNeverGoesNegative(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.MarkRead(context.Background(), "a")
		}()
	}
	wg.Wait()

	require.Zero(t, c.UnreadCount())
	require.Equal(t, 1, store.callCount("mark_read"))
}

func TestDeleteDecrementsOnlyForUnreadEntries(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("read", 1, true), note("unread", 2, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())
	require.Equal(t, 1, c.UnreadCount())

	require.NoError(t, c.Delete(context.Background(), "read"))
	require.Equal(t, 1, c.UnreadCount())

	require.NoError(t, c.Delete(context.Background(), "unread"))
	require.Zero(t, c.UnreadCount())
	require.Empty(t, c.Snapshot().Items)

	require.NoError(t, c.Delete(context.Background(), "unread"))
	require.Zero(t, c.UnreadCount())
}

func TestClearAllEmptiesAnyFeed(t *testing.T) {
	cases := []struct {
		name   string
		total  int
		unread int
	}{
		{name: "empty", total: 0, unread: 0},
		{name: "all read", total: 3, unread: 0},
		{name: "mixed", total: 5, unread: 2},
		{name: "all unread", total: 4, unread: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeNotifications{}
			for i := 0; i < tc.total; i++ {
				store.items = append(store.items, note(string(rune('a'+i)), i, i >= tc.unread))
			}
			c := feed.NewController("user-1", store)
			require.Equal(t, tc.unread, c.Load(context.Background()).UnreadCount)

			require.NoError(t, c.ClearAll(context.Background()))
			state := c.Snapshot()
			require.Empty(t, state.Items)
			require.Zero(t, state.UnreadCount)
		})
	}
}

func TestMarkAllReadResetsCounter(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false), note("b", 2, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())

	require.NoError(t, c.MarkAllRead(context.Background()))
	require.Zero(t, c.UnreadCount())
	require.Len(t, c.Snapshot().Items, 2)
	require.Equal(t, 1, store.callCount("mark_all_read"))
}

func TestHandleInsertPrependsAndCountsOnce(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, true), note("b", 2, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())

	for i, id := range []string{"x", "y", "z"} {
		before := c.Snapshot()
		require.True(t, c.HandleInsert(note(id, 10+i, false)))
		after := c.Snapshot()
		require.Len(t, after.Items, len(before.Items)+1)
		require.Equal(t, id, after.Items[0].ID)
		require.Equal(t, before.UnreadCount+1, after.UnreadCount)
	}

	require.False(t, c.HandleInsert(note("z", 12, false)))
	require.False(t, c.HandleInsert(note("b", 2, false)))
	require.Equal(t, 4, c.UnreadCount())
	require.Equal(t, []string{"z", "y", "x", "b", "a"}, ids(c.Snapshot().Items))
}

func TestLoadMergesInsertsThatRaceTheFetch(t *testing.T) {
	store := &fakeNotifications{
		items:   []backend.Notification{note("pushed", 5, false), note("old", 1, false)},
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	c := feed.NewController("user-1", store)

	done := make(chan feed.State, 1)
	go func() { done <- c.Load(context.Background()) }()
	<-store.entered

	// Both a push already contained in the fetched page and a newer one arrive mid-load.
	require.True(t, c.HandleInsert(note("pushed", 5, false)))
	require.True(t, c.HandleInsert(note("newest", 6, false)))
	close(store.gate)

	state := <-done
	require.Equal(t, []string{"newest", "pushed", "old"}, ids(state.Items))
	require.Equal(t, 3, state.UnreadCount)
}

func TestLoadKeepsMutationsMadeDuringTheFetch(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false), note("b", 2, false), note("c", 3, false)}}
	c := feed.NewController("user-1", store)
	require.Equal(t, 3, c.Load(context.Background()).UnreadCount)

	store.gate = make(chan struct{})
	store.entered = make(chan struct{})
	done := make(chan feed.State, 1)
	go func() { done <- c.Load(context.Background()) }()
	<-store.entered

	require.NoError(t, c.Delete(context.Background(), "a"))
	require.NoError(t, c.MarkRead(context.Background(), "b"))
	require.True(t, c.HandleInsert(note("d", 4, false)))
	require.Equal(t, 2, c.UnreadCount())
	close(store.gate)

	state := <-done
	require.Equal(t, []string{"d", "c", "b"}, ids(state.Items))
	require.True(t, state.Items[2].Read)
	require.NotNil(t, state.Items[2].ReadAt)
	require.Equal(t, 2, state.UnreadCount)

	require.NoError(t, c.MarkRead(context.Background(), "b"))
	require.Equal(t, 2, c.UnreadCount())
	require.Equal(t, 1, store.callCount("mark_read"))
	require.Equal(t, 1, store.callCount("delete"))
}

func TestLoadKeepsClearAndReadAllMadeDuringTheFetch(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*feed.Controller) error
		items  []string
		unread int
	}{
		{
			name:   "clear all",
			mutate: func(c *feed.Controller) error { return c.ClearAll(context.Background()) },
			items:  []string{"late"},
			unread: 1,
		},
		{
			name:   "mark all read",
			mutate: func(c *feed.Controller) error { return c.MarkAllRead(context.Background()) },
			items:  []string{"late", "b", "a"},
			unread: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeNotifications{items: []backend.Notification{note("a", 1, false), note("b", 2, false)}}
			c := feed.NewController("user-1", store)
			c.Load(context.Background())

			store.gate = make(chan struct{})
			store.entered = make(chan struct{})
			done := make(chan feed.State, 1)
			go func() { done <- c.Load(context.Background()) }()
			<-store.entered

			require.NoError(t, tc.mutate(c))
			require.True(t, c.HandleInsert(note("late", 9, false)))
			close(store.gate)

			state := <-done
			require.Equal(t, tc.items, ids(state.Items))
			require.Equal(t, tc.unread, state.UnreadCount)
		})
	}
}

func TestClosedControllerIgnoresLateResults(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false)}, gate: make(chan struct{})}
	c := feed.NewController("user-1", store)

	done := make(chan feed.State, 1)
	go func() { done <- c.Load(context.Background()) }()
	c.Close()
	close(store.gate)

	state := <-done
	require.False(t, state.Loaded)
	require.Empty(t, state.Items)
	require.False(t, c.HandleInsert(note("b", 2, false)))
	require.ErrorIs(t, c.MarkRead(context.Background(), "a"), feed.ErrClosed)
	require.ErrorIs(t, c.ClearAll(context.Background()), feed.ErrClosed)
	require.True(t, c.Closed())
}

func TestWriteFailureKeepsOptimisticState(t *testing.T) {
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false)}}
	c := feed.NewController("user-1", store)
	c.Load(context.Background())

	store.writeErr = backend.ErrTransport
	err := c.MarkRead(context.Background(), "a")
	require.ErrorIs(t, err, backend.ErrTransport)
	require.True(t, backend.IsRetryable(err))
	require.Zero(t, c.UnreadCount())
	require.True(t, c.Snapshot().Items[0].Read)
}

func TestSessionSyncIsOptIn(t *testing.T) {
	items := []backend.Notification{note("a", 1, false), note("b", 2, false), note("c", 3, false)}
	plain := feed.NewController("user-1", &fakeNotifications{items: items})
	synced := feed.NewController("user-1", &fakeNotifications{items: items}, feed.WithSessionSync())
	plain.Load(context.Background())
	synced.Load(context.Background())

	read := backend.Event{Name: realtime.EventNotificationRead, NotificationID: "a"}
	require.False(t, plain.HandleEvent(read))
	require.Equal(t, 3, plain.UnreadCount())

	require.True(t, synced.HandleEvent(read))
	require.False(t, synced.HandleEvent(read))
	require.Equal(t, 2, synced.UnreadCount())

	require.True(t, synced.HandleEvent(backend.Event{Name: realtime.EventNotificationDeleted, NotificationID: "b"}))
	require.Equal(t, 1, synced.UnreadCount())
	require.Len(t, synced.Snapshot().Items, 2)

	require.True(t, synced.HandleEvent(backend.Event{Name: realtime.EventNotificationsReadAll}))
	require.Zero(t, synced.UnreadCount())

	require.True(t, synced.HandleEvent(backend.Event{Name: realtime.EventNotificationsCleared}))
	require.Empty(t, synced.Snapshot().Items)

	inserted := note("d", 4, false)
	require.True(t, plain.HandleEvent(backend.Event{Name: realtime.EventNotificationCreated, Notification: &inserted}))
	require.Equal(t, 4, plain.UnreadCount())
}

func TestOnChangeReceivesEveryMutation(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	store := &fakeNotifications{items: []backend.Notification{note("a", 1, false)}}
	c := feed.NewController("user-1", store, feed.WithOnChange(func(s feed.State) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, s.UnreadCount)
	}))

	c.Load(context.Background())
	c.HandleInsert(note("b", 2, false))
	require.NoError(t, c.MarkRead(context.Background(), "a"))
	require.NoError(t, c.ClearAll(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestControllerWithoutBackend(t *testing.T) {
	c := feed.NewController("", nil)
	require.Empty(t, c.Load(context.Background()).Items)

	c.HandleInsert(note("a", 1, false))
	err := c.MarkRead(context.Background(), "a")
	require.True(t, errors.Is(err, backend.ErrTransport))
}
