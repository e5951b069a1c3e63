package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/database/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
)

func newNotificationFixture(t *testing.T, opts ...NotificationOption) (*NotificationService, *recordingBroadcaster) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	rec := &recordingBroadcaster{}
	svc, err := NewNotificationService(db, rec, opts...)
	require.NoError(t, err)
	return svc, rec
}

func TestNotificationServiceCreateAndList(t *testing.T) {
	svc, rec := newNotificationFixture(t)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:    "user-1",
		Type:      models.NotificationExamDate,
		Title:     "Math exam",
		Message:   "Algebra exam on Friday",
		Priority:  models.PriorityUrgent,
		ActionURL: "/exams/42",
		Metadata:  map[string]any{"exam_id": "42"},
	})
	require.NoError(t, err)
	require.Equal(t, models.PriorityUrgent, dto.Priority)
	require.False(t, dto.Read)
	require.Equal(t, "/exams/42", *dto.ActionURL)
	require.Nil(t, dto.RelatedID)

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, dto.ID, items[0].ID)
	require.Equal(t, "42", items[0].Metadata["exam_id"])

	require.Equal(t, []string{realtime.EventNotificationCreated}, rec.events())
}

func TestNotificationServiceCreateDefaultsAndValidation(t *testing.T) {
	svc, _ := newNotificationFixture(t)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{UserID: "u", Type: models.NotificationAnnouncement, Title: "Hello"})
	require.NoError(t, err)
	require.Equal(t, models.PriorityMedium, dto.Priority)

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "u", Type: "birthday", Title: "x"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "u", Type: models.NotificationAnnouncement, Title: "x", Priority: "extreme"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "u", Type: models.NotificationAnnouncement})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestNotificationServiceListNewestFirstWithLimit(t *testing.T) {
	svc, _ := newNotificationFixture(t, WithFeedLimit(2))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := models.Notification{
			UserID:   "user-1",
			Type:     models.NotificationAnnouncement,
			Title:    []string{"first", "second", "third"}[i],
			Priority: models.PriorityLow,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.db.Create(&row).Error)
	}

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "third", items[0].Title)
	require.Equal(t, "second", items[1].Title)

	other, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-2"})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestNotificationServiceMarkReadIsIdempotent(t *testing.T) {
	svc, rec := newNotificationFixture(t)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{UserID: "user-1", Type: models.NotificationGradeUpdated, Title: "Grade posted"})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)
	require.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	again, err := svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)
	require.True(t, again.Read)

	require.Equal(t, []string{realtime.EventNotificationCreated, realtime.EventNotificationRead}, rec.events())

	count, err := svc.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationServiceMarkReadRejectsOtherUsers(t *testing.T) {
	svc, _ := newNotificationFixture(t)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateNotificationInput{UserID: "owner", Type: models.NotificationGradeUpdated, Title: "Grade"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "intruder", dto.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "intruder", dto.ID), apperrors.ErrNotFound)
}

func TestNotificationServiceMarkAllReadAndClearAll(t *testing.T) {
	svc, rec := newNotificationFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateNotificationInput{UserID: "user-1", Type: models.NotificationScheduleChange, Title: "Room change"})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateNotificationInput{UserID: "user-2", Type: models.NotificationScheduleChange, Title: "Other"})
	require.NoError(t, err)

	changed, err := svc.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, changed)

	unread, err := svc.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, unread)

	changed, err = svc.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, changed)

	removed, err := svc.ClearAll(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1"})
	require.NoError(t, err)
	require.Empty(t, items)

	otherUnread, err := svc.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, otherUnread)

	require.Equal(t, []string{"user-1"}, rec.recipients(realtime.EventNotificationsReadAll))
	require.Equal(t, []string{"user-1"}, rec.recipients(realtime.EventNotificationsCleared))
}

func TestNotificationServiceLifecycle(t *testing.T) {
	svc, _ := newNotificationFixture(t)
	ctx := context.Background()

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "student"})
	require.NoError(t, err)
	require.Empty(t, items)

	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:   "student",
		Type:     models.NotificationExamDate,
		Title:    "Physics exam tomorrow",
		Priority: models.PriorityUrgent,
	})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "student")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	_, err = svc.MarkRead(ctx, "student", dto.ID)
	require.NoError(t, err)

	items, err = svc.ListForUser(ctx, ListNotificationsInput{UserID: "student"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Read)

	require.NoError(t, svc.Delete(ctx, "student", dto.ID))
	items, err = svc.ListForUser(ctx, ListNotificationsInput{UserID: "student"})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestNotificationServiceCreateForUsersDispatches(t *testing.T) {
	dispatcher := newChannelDispatcher()
	svc, rec := newNotificationFixture(t, WithDispatcher(dispatcher))

	items, err := svc.CreateForUsers(context.Background(), []string{"a", "b", "a", " "}, CreateNotificationInput{
		Type:  models.NotificationAnnouncement,
		Title: "Sports day",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.ElementsMatch(t, []string{"a", "b"}, rec.recipients(realtime.EventNotificationCreated))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-dispatcher.ch:
			seen[n.UserID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch not called")
		}
	}
	require.True(t, seen["a"] && seen["b"])

	_, err = svc.CreateForUsers(context.Background(), nil, CreateNotificationInput{Type: models.NotificationAnnouncement, Title: "x"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}
