package events

import (
	"time"

	"github.com/frahmantamala/facilities-console/internal/core/datamodel/notification"
	"github.com/google/uuid"
)

const (
	EventTypeSessionChanged       = "session.changed"
	EventTypeSessionExpired       = "session.expired"
	EventTypeNotificationReceived = "notification.received"
	EventTypeConnectionChanged    = "connection.changed"
)

type SessionChangedEvent struct {
	BaseEvent
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id"`
	Role          string `json:"role"`
	Reason        string `json:"reason"`
}

func NewSessionChangedEvent(authenticated bool, userID, role, reason string) *SessionChangedEvent {
	return &SessionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSessionChanged,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"authenticated": authenticated,
				"user_id":       userID,
				"role":          role,
				"reason":        reason,
			},
		},
		Authenticated: authenticated,
		UserID:        userID,
		Role:          role,
		Reason:        reason,
	}
}

// SessionExpiredEvent is raised when a refresh exchange fails and the stored
// credentials have been purged. Listeners send the operator back to login.
type SessionExpiredEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func NewSessionExpiredEvent(reason string) *SessionExpiredEvent {
	return &SessionExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSessionExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reason": reason,
			},
		},
		Reason: reason,
	}
}

type NotificationReceivedEvent struct {
	BaseEvent
	Notification notification.Notification `json:"notification"`
}

func NewNotificationReceivedEvent(n notification.Notification) *NotificationReceivedEvent {
	return &NotificationReceivedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeNotificationReceived,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"notification_id": n.ID,
				"type":            n.Type,
				"priority":        string(n.Priority),
			},
		},
		Notification: n,
	}
}

type ConnectionChangedEvent struct {
	BaseEvent
	Connected bool `json:"connected"`
	Attempt   int  `json:"attempt"`
}

func NewConnectionChangedEvent(connected bool, attempt int) *ConnectionChangedEvent {
	return &ConnectionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeConnectionChanged,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"connected": connected,
				"attempt":   attempt,
			},
		},
		Connected: connected,
		Attempt:   attempt,
	}
}
