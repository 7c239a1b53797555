package notification

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Known notification types pushed by the facilities backend.
const (
	TypeReportCreated  = "REPORT_CREATED"
	TypeReportUpdated  = "REPORT_UPDATED"
	TypeAuditCancelled = "AUDIT_CANCELLED"
	TypeAuditAssigned  = "AUDIT_ASSIGNED"
)

// Notification is a decoded push event payload.
type Notification struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Priority   Priority  `json:"priority"`
	ReportID   string    `json:"reportId,omitempty"`
	AuditLogID string    `json:"auditLogId,omitempty"`
	Location   string    `json:"location,omitempty"`
	Asset      string    `json:"asset,omitempty"`
	Reporter   string    `json:"reporter,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (n Notification) IsCritical() bool {
	return strings.EqualFold(string(n.Priority), string(PriorityCritical))
}

func (n Notification) IsCancellation() bool {
	return strings.EqualFold(n.Type, TypeAuditCancelled)
}

// Key prefixes, so ids from different sources never collide in the queue.
const (
	KeyPrefixReport       = "report:"
	KeyPrefixAudit        = "audit:"
	KeyPrefixNotification = "notification:"
)

// Key identifies the notification inside the alert queue: the report id when
// present, then the audit log id, then the notification id, each under its
// own prefix.
func (n Notification) Key() string {
	switch {
	case n.ReportID != "":
		return KeyPrefixReport + n.ReportID
	case n.AuditLogID != "":
		return KeyPrefixAudit + n.AuditLogID
	default:
		return KeyPrefixNotification + n.ID
	}
}
