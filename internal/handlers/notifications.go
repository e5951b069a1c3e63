package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for the notification feed.
type NotificationHandler struct {
	service  *services.NotificationService
	profiles *services.ProfileService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService, profiles *services.ProfileService) *NotificationHandler {
	return &NotificationHandler{service: service, profiles: profiles}
}

// FeedPayload is the body of GET /api/notifications.
type FeedPayload struct {
	Items       []services.NotificationDTO `json:"items"`
	UnreadCount int64                      `json:"unread_count"`
}

// List returns the newest notifications of the current user with the unread counter.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	items, err := h.service.ListForUser(ctx, services.ListNotificationsInput{
		UserID: userID,
		Limit:  parseIntQuery(c, "limit", 0),
		Offset: parseIntQuery(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	unread, err := h.service.UnreadCount(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, FeedPayload{Items: items, UnreadCount: unread})
}

// MarkRead flags one notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	dto, err := h.service.MarkRead(requestContext(c), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead flags every unread notification as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes one notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(requestContext(c), userID, strings.TrimSpace(c.Param("id"))); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// ClearAll removes every notification of the current user.
func (h *NotificationHandler) ClearAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	removed, err := h.service.ClearAll(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": removed})
}

type createNotificationRequest struct {
	UserIDs     []string       `json:"user_ids"`
	Roles       []string       `json:"roles"`
	Type        string         `json:"type" validate:"required"`
	Title       string         `json:"title" validate:"required,max=255"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	RelatedID   string         `json:"related_id"`
	RelatedType string         `json:"related_type"`
	ActionURL   string         `json:"action_url"`
	Metadata    map[string]any `json:"metadata"`
}

// Create lets a school administrator notify explicit users, or every active
// member of their school holding one of roles when no users are listed.
func (h *NotificationHandler) Create(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		return
	}

	var payload createNotificationRequest
	if !bindAndValidate(c, &payload) {
		return
	}
	ctx := requestContext(c)

	recipients := payload.UserIDs
	if len(recipients) == 0 {
		ids, err := h.profiles.ActiveUserIDs(ctx, profile.SchoolID, payload.Roles...)
		if err != nil {
			response.Error(c, err)
			return
		}
		recipients = ids
	} else {
		allowed, err := h.profiles.ActiveUserIDs(ctx, profile.SchoolID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !subset(recipients, allowed) {
			response.Error(c, errors.NewBadRequest("recipients must belong to your school"))
			return
		}
	}

	items, err := h.service.CreateForUsers(ctx, recipients, services.CreateNotificationInput{
		Type:        payload.Type,
		Title:       payload.Title,
		Message:     payload.Message,
		Priority:    payload.Priority,
		RelatedID:   payload.RelatedID,
		RelatedType: payload.RelatedType,
		ActionURL:   payload.ActionURL,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"created": len(items), "items": items})
}

func subset(values, allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		set[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := set[strings.TrimSpace(v)]; !ok && strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
