// Package devserver is a self-contained AccessWatch server stand-in. It
// serves the alert-listing endpoint and the websocket live channel against
// in-memory state, for local development and end-to-end tests.
package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/accesswatch/notify/alerts"
	"github.com/accesswatch/notify/notify"
	"github.com/accesswatch/notify/realtime"
)

// Options configures a Server.
type Options struct {
	// Token, when set, is the only bearer credential the server accepts.
	// When empty, every request is accepted.
	Token string

	Logger zerolog.Logger
}

// Server holds in-memory alert state and the set of live-channel clients.
// It implements http.Handler.
type Server struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	alerts   []alerts.Alert
	nextID   int64
	clients  map[string]*client
	ackedIDs []string
}

// client is one connected live-channel session.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	filters notify.FilterCriteria
}

// New creates a Server with empty state.
func New(opts Options) *Server {
	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		nextID:  1,
		clients: map[string]*client{},
		upgrader: websocket.Upgrader{
			// Local harness, no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.Use(s.authorizationRequired)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/ws", s.handleLiveChannel).Methods(http.MethodGet)

	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			writeAPIError(w, http.StatusUnauthorized, "not authorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	acknowledged := query.Get("acknowledged") == "true"

	var since time.Time
	if hours, err := strconv.Atoi(query.Get("hours")); err == nil && hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	limit := 0
	if n, err := strconv.Atoi(query.Get("limit")); err == nil && n > 0 {
		limit = n
	}

	s.mu.Lock()
	var matched []alerts.Alert
	for _, a := range s.alerts {
		if (a.AcknowledgedAt != nil) != acknowledged {
			continue
		}
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		matched = append(matched, a)
	}
	s.mu.Unlock()

	// Most recent first, like the production endpoint, before the page limit
	// is applied.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	total := len(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(alerts.ListResponse{Alerts: matched, Total: total}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write alert list response")
	}
}

func (s *Server) handleLiveChannel(w http.ResponseWriter, r *http.Request) {
	filters := notify.FilterCriteria{}
	if raw := r.URL.Query().Get("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid filters parameter")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		filters: filters,
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Info().
		Str("connectionId", c.id).
		Str("userId", r.URL.Query().Get("user_id")).
		Msg("live channel client connected")

	if err := c.write(realtime.NewConnectionEstablishedMessage(c.id)); err != nil {
		s.removeClient(c)
		return
	}

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientMessage(c, data)
	}
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	var envelope struct {
		Type           string                `json:"type"`
		Filters        notify.FilterCriteria `json:"filters"`
		NotificationID string                `json:"notification_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn().Err(err).Str("connectionId", c.id).Msg("dropping malformed client message")
		return
	}

	switch envelope.Type {
	case realtime.MsgTypePing:
		if err := c.write(realtime.NewPongMessage()); err != nil {
			s.logger.Debug().Err(err).Str("connectionId", c.id).Msg("pong write failed")
		}
	case realtime.MsgTypeUpdateFilters:
		c.mu.Lock()
		c.filters = envelope.Filters
		c.mu.Unlock()
		s.logger.Debug().Str("connectionId", c.id).Msg("client filters updated")
	case realtime.MsgTypeAcknowledge:
		s.acknowledge(envelope.NotificationID)
	default:
		s.logger.Warn().Str("type", envelope.Type).Str("connectionId", c.id).Msg("unknown client message type")
	}
}

// acknowledge records the acknowledgement and, for poller-synthesized
// "alert-<id>" identifiers, marks the underlying alert record.
func (s *Server) acknowledge(notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ackedIDs = append(s.ackedIDs, notificationID)

	rest, found := strings.CutPrefix(notificationID, "alert-")
	if !found {
		return
	}
	alertID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return
	}
	for i := range s.alerts {
		if s.alerts[i].ID == alertID && s.alerts[i].AcknowledgedAt == nil {
			now := time.Now()
			s.alerts[i].AcknowledgedAt = &now
		}
	}
}

// AddAlert appends an alert record with the next ID and returns it.
func (s *Server) AddAlert(severity notify.Severity, message string) alerts.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := alerts.Alert{
		ID:        s.nextID,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now(),
	}
	s.nextID++
	s.alerts = append(s.alerts, a)
	return a
}

// Push broadcasts a notification to every connected client whose filters
// match. It returns the number of clients it was delivered to.
func (s *Server) Push(n notify.Notification) int {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		c.mu.Lock()
		match := c.filters.Matches(n)
		c.mu.Unlock()
		if !match {
			continue
		}
		if err := c.write(n); err != nil {
			s.logger.Debug().Err(err).Str("connectionId", c.id).Msg("push write failed")
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every client connection with the given close code. Tests
// use it to simulate server-initiated closures, including the
// authentication-failure code.
func (s *Server) CloseAll(code int, reason string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

// ClientCount returns the number of connected live-channel clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// AcknowledgedIDs returns every notification ID acknowledged so far, in
// arrival order.
func (s *Server) AcknowledgedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.ackedIDs))
	copy(out, s.ackedIDs)
	return out
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()

	_ = c.conn.Close()
	if present {
		s.logger.Info().Str("connectionId", c.id).Msg("live channel client disconnected")
	}
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(alerts.APIError{ErrorMessage: message})
}
