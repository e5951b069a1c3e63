package forms_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/forms"
	"github.com/charlesng35/schoolx/internal/handlers/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
)

func TestFieldsFor(t *testing.T) {
	cases := []struct {
		category string
		visible  []forms.Field
		required []forms.Field
	}{
		{
			category: models.FeedbackNPSSurvey,
			visible:  []forms.Field{forms.FieldNPSScore, forms.FieldFeedback},
			required: []forms.Field{forms.FieldNPSScore},
		},
		{
			category: models.FeedbackGeneral,
			visible:  []forms.Field{forms.FieldRating, forms.FieldSatisfaction, forms.FieldFeedback},
			required: []forms.Field{forms.FieldFeedback},
		},
		{
			category: models.FeedbackBugReport,
			visible:  []forms.Field{forms.FieldRating, forms.FieldSatisfaction, forms.FieldSubject, forms.FieldPriority, forms.FieldFeedback},
			required: []forms.Field{forms.FieldFeedback},
		},
		{
			category: models.FeedbackFeatureRequest,
			visible: []forms.Field{
				forms.FieldRating, forms.FieldSatisfaction, forms.FieldSubject, forms.FieldPriority,
				forms.FieldFeedback, forms.FieldFeatureRequest,
			},
			required: []forms.Field{forms.FieldFeedback},
		},
		{
			category: models.FeedbackUsabilityIssue,
			visible:  []forms.Field{forms.FieldRating, forms.FieldSatisfaction, forms.FieldImprovementArea, forms.FieldFeedback},
			required: []forms.Field{forms.FieldFeedback},
		},
		{category: "compliment"},
	}
	for _, tc := range cases {
		t.Run(tc.category, func(t *testing.T) {
			fields := forms.FieldsFor(tc.category)
			require.Equal(t, tc.visible, fields.Visible)
			require.Equal(t, tc.required, fields.Required)
			for _, field := range tc.required {
				require.True(t, fields.Shows(field))
				require.True(t, fields.Requires(field))
			}
		})
	}
}

func TestFeedbackFormNPSScoreBounds(t *testing.T) {
	store := &fakeFeedback{}

	zero := forms.NewFeedbackForm(store, "user-1", "school-1", forms.WithCategory(models.FeedbackNPSSurvey))
	zero.Update(func(in *services.SubmitFeedbackInput) { in.NPSScore = intPtr(0) })
	_, err := zero.Submit(context.Background())
	var fieldErr *services.FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "nps_score", fieldErr.Field)
	require.Equal(t, forms.Editing, zero.State())
	require.Equal(t, err, zero.Err())

	unset := forms.NewFeedbackForm(store, "user-1", "school-1", forms.WithCategory(models.FeedbackNPSSurvey))
	_, err = unset.Submit(context.Background())
	require.ErrorAs(t, err, &fieldErr)
	require.Zero(t, store.calls())

	for score := 1; score <= 10; score++ {
		form := forms.NewFeedbackForm(store, "user-1", "school-1", forms.WithCategory(models.FeedbackNPSSurvey))
		form.Update(func(in *services.SubmitFeedbackInput) { in.NPSScore = intPtr(score) })
		_, err := form.Submit(context.Background())
		require.NoError(t, err, "score %d", score)
		require.Equal(t, forms.Submitted, form.State())
	}
	require.Equal(t, 10, store.calls())
}

func TestFeedbackFormRequiresTextOutsideNPS(t *testing.T) {
	store := &fakeFeedback{}

	for _, text := range []string{"", "   "} {
		form := forms.NewFeedbackForm(store, "user-1", "school-1")
		form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = text })
		_, err := form.Submit(context.Background())
		require.EqualError(t, err, "Please provide your feedback")
	}
	require.Zero(t, store.calls())

	for _, text := range []string{"x", "The timetable page is slow"} {
		form := forms.NewFeedbackForm(store, "user-1", "school-1", forms.WithCategory(models.FeedbackUsabilityIssue))
		form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = text })
		_, err := form.Submit(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 2, store.calls())
}

func TestFeedbackFormDropsAnswersHiddenForCategory(t *testing.T) {
	store := &fakeFeedback{}
	form := forms.NewFeedbackForm(store, "user-1", "school-1")
	form.Update(func(in *services.SubmitFeedbackInput) {
		in.Category = models.FeedbackBugReport
		in.Feedback = "Export fails"
		in.Subject = "Export"
		in.Priority = models.FeedbackPriorityHigh
		in.NPSScore = intPtr(4)
		in.ImprovementArea = "reports"
		in.FeatureRequest = "unrelated"
	})
	require.True(t, form.Fields().Shows(forms.FieldSubject))

	_, err := form.Submit(context.Background())
	require.NoError(t, err)

	sent := store.last()
	require.Equal(t, "user-1", sent.UserID)
	require.Equal(t, "school-1", sent.SchoolID)
	require.Equal(t, "Export", sent.Subject)
	require.Equal(t, models.FeedbackPriorityHigh, sent.Priority)
	require.Nil(t, sent.NPSScore)
	require.Empty(t, sent.ImprovementArea)
	require.Empty(t, sent.FeatureRequest)
}

func TestFeedbackFormStateMachine(t *testing.T) {
	store := &fakeFeedback{gate: make(chan struct{}), entered: make(chan struct{})}
	closed := make(chan struct{})
	form := forms.NewFeedbackForm(store, "user-1", "school-1",
		forms.WithCloseDelay(20*time.Millisecond),
		forms.WithOnClose(func() { close(closed) }),
	)
	form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = "Love the new dashboard" })
	require.Equal(t, forms.Editing, form.State())

	done := make(chan error, 1)
	go func() {
		_, err := form.Submit(context.Background())
		done <- err
	}()

	<-store.entered
	require.Equal(t, forms.Submitting, form.State())
	require.False(t, form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = "changed" }))
	_, err := form.Submit(context.Background())
	require.ErrorIs(t, err, forms.ErrBusy)

	close(store.gate)
	require.NoError(t, <-done)
	require.Equal(t, forms.Submitted, form.State())
	require.Equal(t, "fb-1", form.Result().ID)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("form did not close after the delay")
	}
}

func TestFeedbackFormCloseCancelsAutoClose(t *testing.T) {
	closed := make(chan struct{}, 1)
	form := forms.NewFeedbackForm(&fakeFeedback{}, "user-1", "school-1",
		forms.WithCloseDelay(30*time.Millisecond),
		forms.WithOnClose(func() { closed <- struct{}{} }),
	)
	form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = "ok" })
	_, err := form.Submit(context.Background())
	require.NoError(t, err)
	form.Close()

	select {
	case <-closed:
		t.Fatal("auto-close ran after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedbackFormFailureReturnsToEditing(t *testing.T) {
	store := &fakeFeedback{err: errors.Join(backend.ErrTransport, errors.New("connection refused"))}
	form := forms.NewFeedbackForm(store, "user-1", "school-1")
	form.Update(func(in *services.SubmitFeedbackInput) { in.Feedback = "Please add dark mode" })

	_, err := form.Submit(context.Background())
	require.Error(t, err)
	require.True(t, backend.IsRetryable(err))
	require.Equal(t, forms.Editing, form.State())
	require.Nil(t, form.Result())

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	_, err = form.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, forms.Submitted, form.State())
}

func TestNPSPromoterReachesMonthlyAnalytics(t *testing.T) {
	env := testutil.NewEnv(t)
	parent := env.CreateProfile(models.RoleParent, "ngozi")
	admin := env.CreateProfile(models.RoleAdmin, "head")
	local := newLocal(env)
	ctx := context.Background()

	form := forms.NewFeedbackForm(local, parent.ID, env.School.ID, forms.WithCategory(models.FeedbackNPSSurvey))
	form.Update(func(in *services.SubmitFeedbackInput) { in.NPSScore = intPtr(9) })
	item, err := form.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, models.FeedbackNPSSurvey, item.Category)
	require.NotNil(t, item.NPSScore)
	require.Equal(t, 9, *item.NPSScore)
	require.Equal(t, models.FeedbackStatusSubmitted, item.Status)
	require.Nil(t, item.Rating)
	require.Nil(t, item.Feedback)

	console := forms.NewReviewConsole(local, env.School.ID, admin.ID)
	analytics, err := console.Analytics(ctx)
	require.NoError(t, err)
	require.NotNil(t, analytics)
	require.Equal(t, 1, analytics.NPSPromoters)
	require.Zero(t, analytics.NPSPassives)
	require.Zero(t, analytics.NPSDetractors)
}
