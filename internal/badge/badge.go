// Package badge maps the closed status enumerations of the facilities
// platform to display descriptors. The tables are plain data; rendering is
// left to the caller through Style.
package badge

import "strings"

type Style string

const (
	StyleNeutral Style = "neutral"
	StyleInfo    Style = "info"
	StyleSuccess Style = "success"
	StyleWarning Style = "warning"
	StyleDanger  Style = "danger"
	StyleAccent  Style = "accent"
)

type Descriptor struct {
	Label string `json:"label"`
	Style Style  `json:"style"`
}

// Kind names one of the lookup tables.
type Kind string

const (
	KindAuditStatus  Kind = "audit_status"
	KindReportStatus Kind = "report_status"
	KindAssetStatus  Kind = "asset_status"
	KindRole         Kind = "role"
	KindPriority     Kind = "priority"
)

// Unknown is returned for keys outside a table.
var Unknown = Descriptor{Label: "Unknown", Style: StyleNeutral}

var tables = map[Kind]map[string]Descriptor{
	KindAuditStatus: {
		"SCHEDULED":   {Label: "Scheduled", Style: StyleInfo},
		"ASSIGNED":    {Label: "Assigned", Style: StyleAccent},
		"IN_PROGRESS": {Label: "In progress", Style: StyleWarning},
		"COMPLETED":   {Label: "Completed", Style: StyleSuccess},
		"OVERDUE":     {Label: "Overdue", Style: StyleDanger},
		"CANCELLED":   {Label: "Cancelled", Style: StyleNeutral},
	},
	KindReportStatus: {
		"PENDING":     {Label: "Pending", Style: StyleWarning},
		"IN_PROGRESS": {Label: "In progress", Style: StyleInfo},
		"RESOLVED":    {Label: "Resolved", Style: StyleSuccess},
		"REJECTED":    {Label: "Rejected", Style: StyleDanger},
		"CLOSED":      {Label: "Closed", Style: StyleNeutral},
	},
	KindAssetStatus: {
		"ACTIVE":      {Label: "Active", Style: StyleSuccess},
		"MAINTENANCE": {Label: "Under maintenance", Style: StyleWarning},
		"BROKEN":      {Label: "Broken", Style: StyleDanger},
		"RETIRED":     {Label: "Retired", Style: StyleNeutral},
	},
	KindRole: {
		"SUPER_ADMIN": {Label: "Super admin", Style: StyleDanger},
		"ADMIN":       {Label: "Admin", Style: StyleAccent},
		"SUPERVISOR":  {Label: "Supervisor", Style: StyleInfo},
		"TECHNICIAN":  {Label: "Technician", Style: StyleSuccess},
		"STAFF":       {Label: "Staff", Style: StyleNeutral},
	},
	KindPriority: {
		"LOW":      {Label: "Low", Style: StyleNeutral},
		"MEDIUM":   {Label: "Medium", Style: StyleInfo},
		"HIGH":     {Label: "High", Style: StyleWarning},
		"CRITICAL": {Label: "Critical", Style: StyleDanger},
	},
}

// Lookup returns the descriptor for key in the kind's table. Keys are
// matched case-insensitively; anything else yields Unknown carrying the raw
// key as its label so operators still see the value.
func Lookup(kind Kind, key string) Descriptor {
	table, ok := tables[kind]
	if !ok {
		return Unknown
	}
	if d, ok := table[strings.ToUpper(strings.TrimSpace(key))]; ok {
		return d
	}
	if key == "" {
		return Unknown
	}
	return Descriptor{Label: key, Style: Unknown.Style}
}

func AuditStatus(s string) Descriptor  { return Lookup(KindAuditStatus, s) }
func ReportStatus(s string) Descriptor { return Lookup(KindReportStatus, s) }
func AssetStatus(s string) Descriptor  { return Lookup(KindAssetStatus, s) }
func Role(s string) Descriptor         { return Lookup(KindRole, s) }
func Priority(s string) Descriptor     { return Lookup(KindPriority, s) }

// Keys lists the known keys of a table.
func Keys(kind Kind) []string {
	table := tables[kind]
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	return out
}
