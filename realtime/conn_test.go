package realtime

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/notify/notify"
)

func TestBuildChannelURL(t *testing.T) {
	t.Run("bare URL without optional parameters", func(t *testing.T) {
		got, err := buildChannelURL("wss://watch.example.com/api/v1/ws", "", notify.FilterCriteria{})
		require.NoError(t, err)
		assert.Equal(t, "wss://watch.example.com/api/v1/ws", got)
	})

	t.Run("user id is added as a query parameter", func(t *testing.T) {
		got, err := buildChannelURL("wss://watch.example.com/api/v1/ws", "u-123", notify.FilterCriteria{})
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "u-123", u.Query().Get("user_id"))
	})

	t.Run("filters are JSON-stringified", func(t *testing.T) {
		filters := notify.FilterCriteria{
			Types:       []notify.Type{notify.TypeAlertTriggered, notify.TypeSystemStatus},
			MinSeverity: notify.SeverityMedium,
		}

		got, err := buildChannelURL("wss://watch.example.com/api/v1/ws", "", filters)
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)

		var decoded notify.FilterCriteria
		require.NoError(t, json.Unmarshal([]byte(u.Query().Get("filters")), &decoded))
		assert.Equal(t, filters, decoded)
	})

	t.Run("invalid URL returns an error", func(t *testing.T) {
		_, err := buildChannelURL("://not-a-url", "", notify.FilterCriteria{})
		assert.Error(t, err)
	})
}

func TestIsAuthFailure(t *testing.T) {
	assert.False(t, isAuthFailure(nil))
	assert.False(t, isAuthFailure(errors.New("network unreachable")))
	assert.False(t, isAuthFailure(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))

	assert.True(t, isAuthFailure(ErrAuthRejected))
	assert.True(t, isAuthFailure(errors.Wrap(ErrAuthRejected, "handshake failed with HTTP 401")))
	assert.True(t, isAuthFailure(&websocket.CloseError{Code: CloseCodeAuthFailure, Text: "bad token"}))
}
