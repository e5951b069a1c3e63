package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/response"
)

// NotificationSettingsHandler reads and saves the caller's notification settings.
type NotificationSettingsHandler struct {
	service *services.NotificationSettingsService
}

func NewNotificationSettingsHandler(service *services.NotificationSettingsService) *NotificationSettingsHandler {
	return &NotificationSettingsHandler{service: service}
}

type settingsPayload struct {
	Settings services.NotificationSettings `json:"settings"`
	Exists   bool                          `json:"exists"`
}

// Get returns stored settings, or defaults with exists=false.
func (h *NotificationSettingsHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	settings, found, err := h.service.Get(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settingsPayload{Settings: settings, Exists: found})
}

type updateSettingsRequest struct {
	InAppEnabled        *bool   `json:"inapp_enabled"`
	EmailEnabled        *bool   `json:"email_enabled"`
	PushEnabled         *bool   `json:"push_enabled"`
	ScheduleChanges     *bool   `json:"schedule_changes"`
	ExamReminders       *bool   `json:"exam_reminders"`
	AssignmentReminders *bool   `json:"assignment_reminders"`
	AttendanceReminders *bool   `json:"attendance_reminders"`
	GradeUpdates        *bool   `json:"grade_updates"`
	Announcements       *bool   `json:"announcements"`
	ReminderAdvanceDays *int    `json:"reminder_advance_days" validate:"omitempty,oneof=0 1 2 3 7"`
	QuietHoursStart     *string `json:"quiet_hours_start" validate:"omitempty,timeofday"`
	QuietHoursEnd       *string `json:"quiet_hours_end" validate:"omitempty,timeofday"`
}

// Update merges the supplied fields over the current settings and upserts the result.
func (h *NotificationSettingsHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload updateSettingsRequest
	if !bindAndValidate(c, &payload) {
		return
	}
	ctx := requestContext(c)

	current, _, err := h.service.Get(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	applySettingsUpdate(&current, payload)

	saved, err := h.service.Upsert(ctx, userID, current)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settingsPayload{Settings: saved, Exists: true})
}

func applySettingsUpdate(dst *services.NotificationSettings, in updateSettingsRequest) {
	toggles := []struct {
		src *bool
		dst *bool
	}{
		{in.InAppEnabled, &dst.InAppEnabled},
		{in.EmailEnabled, &dst.EmailEnabled},
		{in.PushEnabled, &dst.PushEnabled},
		{in.ScheduleChanges, &dst.ScheduleChanges},
		{in.ExamReminders, &dst.ExamReminders},
		{in.AssignmentReminders, &dst.AssignmentReminders},
		{in.AttendanceReminders, &dst.AttendanceReminders},
		{in.GradeUpdates, &dst.GradeUpdates},
		{in.Announcements, &dst.Announcements},
	}
	for _, t := range toggles {
		if t.src != nil {
			*t.dst = *t.src
		}
	}
	if in.ReminderAdvanceDays != nil {
		dst.ReminderAdvanceDays = *in.ReminderAdvanceDays
	}
	if in.QuietHoursStart != nil {
		dst.QuietHoursStart = *in.QuietHoursStart
	}
	if in.QuietHoursEnd != nil {
		dst.QuietHoursEnd = *in.QuietHoursEnd
	}
}
