package realtime

// Named realtime streams.
const (
	StreamNotifications = "notifications"
	StreamFeedback      = "feedback"
)

// Events emitted on the notifications stream.
const (
	EventSubscribed           = "subscribed"
	EventPong                 = "pong"
	EventNotificationCreated  = "notification.created"
	EventNotificationRead     = "notification.read"
	EventNotificationsReadAll = "notification.read_all"
	EventNotificationDeleted  = "notification.deleted"
	EventNotificationsCleared = "notification.cleared"
)

// Events emitted on the feedback stream (school administrators only).
const (
	EventFeedbackSubmitted = "feedback.submitted"
	EventFeedbackUpdated   = "feedback.updated"
)

// Broadcaster delivers messages to every realtime subscriber of a user.
type Broadcaster interface {
	BroadcastToUser(stream, userID string, message Message)
}
