package forms_test

import (
	"context"
	"sync"

	"github.com/charlesng35/schoolx/internal/backend"
	"github.com/charlesng35/schoolx/internal/handlers/testutil"
	"github.com/charlesng35/schoolx/internal/services"
)

func newLocal(env *testutil.Env) *backend.Local {
	return backend.NewLocal(backend.LocalServices{
		Notifications: env.Services.Notifications,
		Settings:      env.Services.Settings,
		Feedback:      env.Services.Feedback,
		Analytics:     env.Services.Analytics,
		Hub:           env.Hub,
	})
}

type fakeSettings struct {
	mu      sync.Mutex
	stored  *backend.Preferences
	err     error
	upserts int
}

func (f *fakeSettings) Get(context.Context, string) (backend.Preferences, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return backend.Preferences{}, false, f.err
	}
	if f.stored == nil {
		return services.DefaultNotificationSettings(), false, nil
	}
	return *f.stored, true, nil
}

func (f *fakeSettings) Upsert(_ context.Context, _ string, prefs backend.Preferences) (backend.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.err != nil {
		return backend.Preferences{}, f.err
	}
	f.stored = &prefs
	return prefs, nil
}

type fakeFeedback struct {
	mu        sync.Mutex
	submitted []services.SubmitFeedbackInput
	err       error
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeFeedback) Submit(ctx context.Context, input services.SubmitFeedbackInput) (*backend.FeedbackItem, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, input)
	if f.err != nil {
		return nil, f.err
	}
	item := &backend.FeedbackItem{}
	item.ID = "fb-1"
	item.Category = input.Category
	item.Status = "submitted"
	return item, nil
}

func (f *fakeFeedback) ListFeedback(context.Context, backend.FeedbackQuery) ([]backend.FeedbackItem, error) {
	return nil, f.err
}

func (f *fakeFeedback) Respond(context.Context, services.RespondFeedbackInput) (*backend.FeedbackItem, error) {
	return nil, f.err
}

func (f *fakeFeedback) CurrentAnalytics(context.Context, string) (*backend.Analytics, error) {
	return nil, f.err
}

func (f *fakeFeedback) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeFeedback) last() services.SubmitFeedbackInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

func intPtr(v int) *int {
	return &v
}
