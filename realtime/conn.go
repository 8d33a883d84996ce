package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/accesswatch/notify/notify"
)

// CloseCodeAuthFailure is the application close code the server sends when
// it rejects the connection's credential.
const CloseCodeAuthFailure = 4001

// ErrAuthRejected indicates the server refused the bearer credential,
// either at handshake time or by closing the channel with
// CloseCodeAuthFailure.
var ErrAuthRejected = errors.New("live channel rejected credential")

// Conn is a single live-channel handle. Exactly one Conn is owned by the
// Manager at a time; only the Manager opens, writes to, or closes it.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a close error.
	ReadMessage() ([]byte, error)

	// WriteJSON sends a JSON-encoded control message.
	WriteJSON(v any) error

	// Close tears the connection down with a normal-closure reason.
	Close() error
}

// Dialer establishes live-channel connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WebsocketDialer is the production Dialer backed by gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer with a handshake timeout.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// Dial implements Dialer. A handshake rejected with HTTP 401 or 403 is
// reported as ErrAuthRejected.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(ErrAuthRejected, "handshake failed with HTTP %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "failed to open live channel")
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

// Close sends a normal-closure frame before closing the underlying
// connection so the server does not treat the disconnect as abnormal.
func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}

// isAuthFailure reports whether a dial or close error indicates the server
// rejected the credential.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRejected) {
		return true
	}
	return websocket.IsCloseError(err, CloseCodeAuthFailure)
}

// buildChannelURL appends the optional user_id and filters query parameters
// to the live-channel endpoint URL.
func buildChannelURL(rawURL, userID string, filters notify.FilterCriteria) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid live channel URL")
	}

	query := u.Query()
	if userID != "" {
		query.Set("user_id", userID)
	}
	if !filters.IsZero() {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return "", errors.Wrap(err, "failed to encode filters")
		}
		query.Set("filters", string(encoded))
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
