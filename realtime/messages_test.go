package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/notify/notify"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("connection established is control", func(t *testing.T) {
		data, err := json.Marshal(NewConnectionEstablishedMessage("conn-1"))
		require.NoError(t, err)

		kind, _, err := decodeInbound(data)
		require.NoError(t, err)
		assert.Equal(t, inboundConnectionEstablished, kind)
	})

	t.Run("pong is control", func(t *testing.T) {
		data, err := json.Marshal(NewPongMessage())
		require.NoError(t, err)

		kind, _, err := decodeInbound(data)
		require.NoError(t, err)
		assert.Equal(t, inboundPong, kind)
	})

	t.Run("any other well-formed message is a notification", func(t *testing.T) {
		data := []byte(`{
			"id": "srv-42",
			"type": "permission_change",
			"title": "Permission changed",
			"message": "role admin granted on /finance",
			"severity": "high",
			"timestamp": "2026-03-14T09:30:00Z",
			"data": {"path": "/finance"}
		}`)

		kind, n, err := decodeInbound(data)
		require.NoError(t, err)
		assert.Equal(t, inboundNotification, kind)
		assert.Equal(t, "srv-42", n.ID)
		assert.Equal(t, notify.TypePermissionChange, n.Type)
		assert.Equal(t, notify.SeverityHigh, n.Severity)
		assert.Equal(t, "role admin granted on /finance", n.Message)
		assert.Equal(t, "/finance", n.Data["path"])
	})

	t.Run("invalid JSON is malformed", func(t *testing.T) {
		_, _, err := decodeInbound([]byte("{not json"))
		assert.Error(t, err)
	})

	t.Run("notification without id is malformed", func(t *testing.T) {
		_, _, err := decodeInbound([]byte(`{"type": "system_status", "message": "ok"}`))
		assert.Error(t, err)
	})

	t.Run("notification without type is malformed", func(t *testing.T) {
		_, _, err := decodeInbound([]byte(`{"id": "srv-1", "message": "ok"}`))
		assert.Error(t, err)
	})
}

func TestOutboundMessages(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		data, err := json.Marshal(NewPingMessage())
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"ping"}`, string(data))
	})

	t.Run("update filters", func(t *testing.T) {
		msg := NewUpdateFiltersMessage(notify.FilterCriteria{
			Types:       []notify.Type{notify.TypeAlertTriggered},
			MinSeverity: notify.SeverityHigh,
			Paths:       []string{"/prod"},
		})
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"type": "update_filters",
			"filters": {"types": ["alert_triggered"], "min_severity": "high", "paths": ["/prod"]}
		}`, string(data))
	})

	t.Run("acknowledge", func(t *testing.T) {
		data, err := json.Marshal(NewAcknowledgeMessage("alert-7"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"acknowledge_notification","notification_id":"alert-7"}`, string(data))
	})
}
