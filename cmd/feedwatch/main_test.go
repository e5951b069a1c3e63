package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/handlers/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseFlagsRequiresToken(t *testing.T) {
	t.Setenv(tokenEnv, "")
	_, err := parseFlags([]string{"-server", "http://example.com"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "token is required")

	_, err = parseFlags([]string{"-token", "not-a-jwt"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "read token")
}

func TestParseFlagsUsesTokenSubject(t *testing.T) {
	env := testutil.NewEnv(t)
	t.Setenv(tokenEnv, env.Token("user-42"))

	opts, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "user-42", opts.userID)

	opts, err = parseFlags([]string{"-user", "someone-else"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "someone-else", opts.userID)
}

func TestRunOncePrintsFeed(t *testing.T) {
	env := testutil.NewEnv(t)
	student := env.CreateProfile(models.RoleStudent, "amina")
	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	_, err := env.Services.Notifications.Create(context.Background(), services.CreateNotificationInput{
		UserID:   student.ID,
		Type:     models.NotificationExamDate,
		Title:    "Biology exam",
		Message:  "Room 4",
		Priority: models.PriorityUrgent,
	})
	require.NoError(t, err)

	out := &lockedBuffer{}
	err = run(context.Background(), []string{"-server", server.URL, "-token", env.Token(student.ID), "-once"}, out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "1 notifications, 1 unread")
	require.Contains(t, out.String(), "[URGENT]: Biology exam - Room 4")
}

func TestRunWatchesAndMirrorsPushes(t *testing.T) {
	env := testutil.NewEnv(t)
	parent := env.CreateProfile(models.RoleParent, "ngozi")
	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-server", server.URL, "-token", env.Token(parent.ID), "-push"}, out)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "watching for new notifications (push on)")
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, env.Hub.SubscriberCount(realtime.StreamNotifications, parent.ID))

	stored, found, err := env.Services.Settings.Get(context.Background(), parent.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, stored.PushEnabled)

	_, err = env.Services.Notifications.Create(context.Background(), services.CreateNotificationInput{
		UserID:  parent.ID,
		Type:    models.NotificationAnnouncement,
		Title:   "Sports day",
		Message: "Friday afternoon",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		text := out.String()
		return strings.Contains(text, "new: * ") && strings.Contains(text, "[push] Sports day: Friday afternoon")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feedwatch did not stop")
	}
	require.Eventually(t, func() bool {
		return env.Hub.SubscriberCount(realtime.StreamNotifications, parent.ID) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
