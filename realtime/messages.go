package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/accesswatch/notify/notify"
)

// Live-channel control message types. Any inbound frame whose type is not a
// control type is treated as a notification.
const (
	MsgTypeConnectionEstablished = "connection_established"
	MsgTypePing                  = "ping"
	MsgTypePong                  = "pong"
	MsgTypeUpdateFilters         = "update_filters"
	MsgTypeAcknowledge           = "acknowledge_notification"
)

// PingMessage is the outbound heartbeat.
type PingMessage struct {
	Type string `json:"type"`
}

// NewPingMessage creates a heartbeat message.
func NewPingMessage() PingMessage {
	return PingMessage{Type: MsgTypePing}
}

// PongMessage is the server's heartbeat reply. Nothing depends on receiving
// it; the Manager recognizes and discards it.
type PongMessage struct {
	Type string `json:"type"`
}

// NewPongMessage creates a heartbeat reply.
func NewPongMessage() PongMessage {
	return PongMessage{Type: MsgTypePong}
}

// ConnectionEstablishedMessage is the server's startup greeting. It is
// informational only.
type ConnectionEstablishedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// NewConnectionEstablishedMessage creates a startup greeting.
func NewConnectionEstablishedMessage(connectionID string) ConnectionEstablishedMessage {
	return ConnectionEstablishedMessage{Type: MsgTypeConnectionEstablished, ConnectionID: connectionID}
}

// UpdateFiltersMessage pushes new filter criteria to the server.
type UpdateFiltersMessage struct {
	Type    string                `json:"type"`
	Filters notify.FilterCriteria `json:"filters"`
}

// NewUpdateFiltersMessage creates a filter update message.
func NewUpdateFiltersMessage(filters notify.FilterCriteria) UpdateFiltersMessage {
	return UpdateFiltersMessage{Type: MsgTypeUpdateFilters, Filters: filters}
}

// AcknowledgeMessage tells the server a notification was acknowledged.
type AcknowledgeMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id"`
}

// NewAcknowledgeMessage creates an acknowledgement message.
func NewAcknowledgeMessage(notificationID string) AcknowledgeMessage {
	return AcknowledgeMessage{Type: MsgTypeAcknowledge, NotificationID: notificationID}
}

// inboundKind classifies a decoded inbound frame.
type inboundKind int

const (
	inboundConnectionEstablished inboundKind = iota
	inboundPong
	inboundNotification
)

// decodeInbound classifies and decodes a raw inbound frame. Control frames
// return a zero notification. A frame that is not valid JSON, or that claims
// to be a notification but lacks an ID or type, is malformed.
func decodeInbound(data []byte) (inboundKind, notify.Notification, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, notify.Notification{}, errors.Wrap(err, "failed to parse message envelope")
	}

	switch envelope.Type {
	case MsgTypeConnectionEstablished:
		return inboundConnectionEstablished, notify.Notification{}, nil
	case MsgTypePong:
		return inboundPong, notify.Notification{}, nil
	}

	var n notify.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, notify.Notification{}, errors.Wrap(err, "failed to parse notification")
	}
	if n.ID == "" || n.Type == "" {
		return 0, notify.Notification{}, errors.New("notification missing id or type")
	}

	return inboundNotification, n, nil
}
