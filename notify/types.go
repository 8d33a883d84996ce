package notify

import (
	"strings"
	"time"
)

// Type categorizes a notification by the kind of security event it reports.
type Type string

const (
	TypePermissionChange      Type = "permission_change"
	TypeGroupMembershipChange Type = "group_membership_change"
	TypeNewAccessGranted      Type = "new_access_granted"
	TypeAccessRemoved         Type = "access_removed"
	TypeAlertTriggered        Type = "alert_triggered"
	TypeSystemStatus          Type = "system_status"
)

// Severity is the ordered severity level of a notification or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities from least to most severe.
// Unknown severities rank below low.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above the given minimum severity.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Notification is the delivered unit of information. Notifications are
// created either from a live-channel push message or synthesized by the
// fallback poller from an alert delta; both paths produce the same shape.
type Notification struct {
	// ID is unique within a session. Live-channel notifications carry a
	// server-issued ID; poller-sourced ones use "alert-<alertId>".
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`

	// Read is mutated only via acknowledgement.
	Read bool `json:"read"`
}

// FilterCriteria restricts which notifications the server should deliver.
// Owned by the caller; pushed to the live channel on change and usable to
// parameterize poller queries.
type FilterCriteria struct {
	Types       []Type   `json:"types,omitempty"`
	MinSeverity Severity `json:"min_severity,omitempty"`
	Paths       []string `json:"paths,omitempty"`
}

// IsZero reports whether no criteria are set.
func (f FilterCriteria) IsZero() bool {
	return len(f.Types) == 0 && f.MinSeverity == "" && len(f.Paths) == 0
}

// Matches reports whether the notification passes the criteria. Empty
// criteria match everything. Path criteria only constrain notifications that
// carry a "path" data field.
func (f FilterCriteria) Matches(n Notification) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if n.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MinSeverity != "" && !n.Severity.AtLeast(f.MinSeverity) {
		return false
	}

	if len(f.Paths) > 0 {
		path, ok := n.Data["path"].(string)
		if ok {
			found := false
			for _, p := range f.Paths {
				if path == p || strings.HasPrefix(path, p+"/") {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	return true
}
