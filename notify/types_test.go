package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterCriteriaMatches(t *testing.T) {
	notification := func(typ Type, severity Severity, path string) Notification {
		n := Notification{ID: "n-1", Type: typ, Severity: severity}
		if path != "" {
			n.Data = map[string]any{"path": path}
		}
		return n
	}

	t.Run("empty criteria match everything", func(t *testing.T) {
		f := FilterCriteria{}
		assert.True(t, f.IsZero())
		assert.True(t, f.Matches(notification(TypeSystemStatus, SeverityLow, "")))
	})

	t.Run("type list", func(t *testing.T) {
		f := FilterCriteria{Types: []Type{TypePermissionChange, TypeAccessRemoved}}

		assert.True(t, f.Matches(notification(TypeAccessRemoved, SeverityLow, "")))
		assert.False(t, f.Matches(notification(TypeAlertTriggered, SeverityCritical, "")))
	})

	t.Run("minimum severity", func(t *testing.T) {
		f := FilterCriteria{MinSeverity: SeverityHigh}

		assert.True(t, f.Matches(notification(TypeAlertTriggered, SeverityHigh, "")))
		assert.True(t, f.Matches(notification(TypeAlertTriggered, SeverityCritical, "")))
		assert.False(t, f.Matches(notification(TypeAlertTriggered, SeverityMedium, "")))
	})

	t.Run("paths constrain only notifications that carry one", func(t *testing.T) {
		f := FilterCriteria{Paths: []string{"/srv/shared"}}

		assert.True(t, f.Matches(notification(TypePermissionChange, SeverityLow, "/srv/shared")))
		assert.True(t, f.Matches(notification(TypePermissionChange, SeverityLow, "/srv/shared/payroll")))
		assert.False(t, f.Matches(notification(TypePermissionChange, SeverityLow, "/srv/sharedother")))
		assert.False(t, f.Matches(notification(TypePermissionChange, SeverityLow, "/home/jdoe")))

		// No path data at all: the path criterion does not apply.
		assert.True(t, f.Matches(notification(TypeSystemStatus, SeverityLow, "")))
	})

	t.Run("criteria combine conjunctively", func(t *testing.T) {
		f := FilterCriteria{Types: []Type{TypeAlertTriggered}, MinSeverity: SeverityHigh}

		assert.True(t, f.Matches(notification(TypeAlertTriggered, SeverityCritical, "")))
		assert.False(t, f.Matches(notification(TypeAlertTriggered, SeverityLow, "")))
		assert.False(t, f.Matches(notification(TypeSystemStatus, SeverityCritical, "")))
	})
}
