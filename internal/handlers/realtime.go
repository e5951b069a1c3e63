package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/schoolx/internal/auth"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
// Every user may follow notifications; the feedback stream is limited to school administrators.
type RealtimeHandler struct {
	hub      *realtime.Hub
	jwt      *iauth.JWTService
	profiles *services.ProfileService
}

func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, profiles *services.ProfileService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt, profiles: profiles}
}

// Stream authenticates via ?token= (browsers cannot set headers on websocket
// upgrades) or the Authorization header, then hands the socket to the hub.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	userID := strings.TrimSpace(claims.UserID())
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	allowed := map[string]struct{}{realtime.StreamNotifications: {}}
	if h.profiles != nil {
		if profile, err := h.profiles.Get(requestContext(c), userID); err == nil && profile.IsActive && profile.IsAdmin() {
			allowed[realtime.StreamFeedback] = struct{}{}
		}
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamNotifications}
	}
	for _, stream := range streams {
		if _, ok := allowed[stream]; !ok {
			response.Error(c, errors.ErrForbidden)
			return
		}
	}

	h.hub.Serve(userID, streams, allowed, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
