package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/facilities-console/internal/core/datamodel/notification"
	"github.com/google/uuid"
)

const EventNotification = "notification"

var ErrUnsupportedFrame = errors.New("unsupported frame")

// Frame is the envelope of every message on the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type notificationPayload struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// DecodeNotification parses a raw push message. Frames for other events
// return ErrUnsupportedFrame.
func DecodeNotification(raw []byte) (notification.Notification, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return notification.Notification{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event != EventNotification {
		return notification.Notification{}, fmt.Errorf("%w: %q", ErrUnsupportedFrame, frame.Event)
	}

	var payload notificationPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return notification.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if payload.Type == "" {
		return notification.Notification{}, errors.New("notification without type")
	}

	d := payload.Data
	n := notification.Notification{
		ID:         field(d, "id", "notificationId"),
		Type:       payload.Type,
		Priority:   notification.Priority(strings.ToUpper(field(d, "priority"))),
		ReportID:   field(d, "reportId"),
		AuditLogID: field(d, "auditLogId"),
		Location:   field(d, "location", "zone", "building"),
		Asset:      field(d, "asset", "assetName"),
		Reporter:   field(d, "reporter", "reportedBy"),
		Message:    field(d, "message", "description", "title"),
		ReceivedAt: time.Now(),
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return n, nil
}

// field returns the first present key rendered as text. Ids may arrive as
// numbers and locations or assets as objects carrying a name.
func field(d map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := d[k]
		if !ok || v == nil {
			continue
		}
		if s := text(v); s != "" {
			return s
		}
	}
	return ""
}

func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]interface{}:
		return field(t, "name", "label", "code", "id")
	default:
		return ""
	}
}
