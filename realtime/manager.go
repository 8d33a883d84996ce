package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/accesswatch/notify/alerts"
	"github.com/accesswatch/notify/notify"
)

// DefaultHeartbeatInterval is how often a ping is sent while connected.
const DefaultHeartbeatInterval = 30 * time.Second

// Config configures a Manager.
type Config struct {
	// URL is the live-channel endpoint, e.g. "wss://watch.example.com/api/v1/ws".
	URL string

	// UserID is an optional user identifier passed as a query parameter.
	UserID string

	// Token supplies the bearer credential. A connection attempt without a
	// credential fails terminally; there is no point retrying.
	Token alerts.TokenSource

	// Filters is the initial filter criteria. May be updated later via
	// UpdateFilters.
	Filters notify.FilterCriteria

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Reconnect policy knobs; zero values use the package defaults.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// Poll configures the fallback poller; zero values use the defaults.
	Poll PollerConfig

	// BufferCapacity defaults to notify.DefaultBufferCapacity.
	BufferCapacity int

	// Toaster receives the presentation side-effect for every delivered
	// notification. May be nil.
	Toaster notify.Toaster

	// OnStateChange, if set, is invoked on every connection state change.
	// It runs on its own goroutine; a callback that calls back into the
	// Manager would otherwise deadlock.
	OnStateChange func(State)

	// OnAuthError, if set, receives the single user-visible authentication
	// error. It is invoked at most once per session.
	OnAuthError func(error)

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Validate checks the required configuration fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("live channel URL is required")
	}
	if c.Token == nil {
		return errors.New("credential source is required")
	}
	return nil
}

// Manager owns the single live-channel handle and translates its events into
// buffer and dispatch operations. It drives the connection state machine:
// connect with backoff-governed retries, then degrade permanently to polling
// once the retry budget is exhausted.
//
// Superseded handles are recognized by a generation counter: every dial
// increments it, and every scheduled callback or read loop carries the
// generation it was issued for. Stale events are discarded.
type Manager struct {
	cfg        Config
	dialer     Dialer
	scheduler  Scheduler
	policy     *ReconnectPolicy
	buffer     *notify.Buffer
	dispatcher *notify.Dispatcher
	poller     *Poller
	logger     zerolog.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	generation    int
	filters       notify.FilterCriteria
	heartbeatTask Task
	reconnectTask Task
	terminal      bool
	authErrorSent bool
}

// NewManager creates a Manager. source feeds the fallback poller and is
// typically an *alerts.Client against the same server.
func NewManager(cfg Config, source AlertSource) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid manager configuration")
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:       cfg,
		dialer:    NewWebsocketDialer(),
		scheduler: NewTimerScheduler(),
		policy:    NewReconnectPolicy(cfg.MaxReconnectAttempts, cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay),
		buffer:    notify.NewBuffer(cfg.BufferCapacity),
		state:     StateIdle,
		filters:   cfg.Filters,
		logger:    cfg.Logger,
	}
	m.dispatcher = notify.NewDispatcher(cfg.Toaster, cfg.Logger)
	m.poller = NewPoller(source, m.scheduler, cfg.Poll, m.deliver, cfg.Logger)

	return m, nil
}

// SetDialer replaces the live-channel dialer. Must be called before Connect
// (useful for testing).
func (m *Manager) SetDialer(d Dialer) {
	m.dialer = d
}

// SetScheduler replaces the task scheduler for the manager and its poller.
// Must be called before Connect (useful for testing).
func (m *Manager) SetScheduler(s Scheduler) {
	m.scheduler = s
	m.poller.scheduler = s
}

// Connect attempts to establish the live channel. It is a no-op while a
// connection is in flight or established, after the session has degraded to
// polling, and after a terminal authentication failure.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.terminal || m.state == StatePolling || m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}

	token := m.cfg.Token()
	if token == "" {
		// No credential, no retry: without one, a retry has no chance of
		// succeeding.
		m.terminal = true
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		m.emitAuthError(errors.New("no credential available for live channel"))
		m.poller.Start()
		return
	}

	if m.reconnectTask != nil {
		m.reconnectTask.Cancel()
		m.reconnectTask = nil
	}

	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial(gen, token)
}

// dial opens the live channel for the given generation and hands the handle
// to the manager unless it has been superseded in the meantime.
func (m *Manager) dial(gen int, token string) {
	channelURL, err := buildChannelURL(m.cfg.URL, m.cfg.UserID, m.filtersSnapshot())
	if err != nil {
		m.handleClose(gen, err)
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := m.dialer.Dial(context.Background(), channelURL, header)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.handleClose(gen, err)
		return
	}

	m.conn = conn
	m.setStateLocked(StateConnected)
	m.policy.Reset()
	m.startHeartbeatLocked(gen)
	m.mu.Unlock()

	m.poller.Stop()
	m.logger.Info().Int("generation", gen).Msg("live channel established")

	go m.readLoop(gen, conn)
}

// readLoop processes inbound frames in arrival order until the channel
// closes.
func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleMessage(gen, data)
	}
}

// handleMessage decodes one inbound frame. Malformed frames are logged and
// dropped; they never affect the connection.
func (m *Manager) handleMessage(gen int, data []byte) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	kind, n, err := decodeInbound(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("dropping malformed live channel message")
		return
	}

	switch kind {
	case inboundConnectionEstablished:
		m.logger.Debug().Msg("live channel greeting received")
	case inboundPong:
		// Heartbeat reply, discarded.
	case inboundNotification:
		m.deliver(n)
	}
}

// deliver is the single delivery path for notifications from either source:
// insert at the buffer head, then dispatch the presentation side-effect.
func (m *Manager) deliver(n notify.Notification) {
	m.buffer.Push(n)
	m.dispatcher.Dispatch(n)
}

// handleClose reacts to the live channel going down for the given
// generation. Stale generations (a superseded handle, or a handle closed by
// an explicit Disconnect) are ignored.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}

	m.stopHeartbeatLocked()
	m.conn = nil

	if isAuthFailure(err) {
		// Terminal: one user-visible error, no retry.
		m.terminal = true
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		m.logger.Error().Err(err).Msg("live channel authentication failed")
		m.emitAuthError(errors.Wrap(err, "live channel authentication failed"))
		m.poller.Start()
		return
	}

	delay, ok := m.policy.Next()
	if !ok {
		// Retry budget exhausted: degrade to polling for the rest of the
		// session. No further reconnect decisions are ever made.
		m.setStateLocked(StatePolling)
		m.mu.Unlock()

		m.logger.Info().Err(err).Msg("reconnect budget exhausted, degrading to polling")
		m.poller.Start()
		return
	}

	m.setStateLocked(StateDisconnected)
	m.reconnectTask = m.scheduler.After(delay, func() {
		m.retry(gen)
	})
	attempts := m.policy.Attempts()
	m.mu.Unlock()

	m.logger.Warn().
		Err(err).
		Int("attempt", attempts).
		Dur("delay", delay).
		Msg("live channel closed, reconnect scheduled")
	m.poller.Start()
}

// retry re-dials after a backoff delay, unless the handle it was scheduled
// for has been superseded in the meantime.
func (m *Manager) retry(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.terminal || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTask = nil

	token := m.cfg.Token()
	if token == "" {
		m.terminal = true
		m.mu.Unlock()

		m.emitAuthError(errors.New("no credential available for live channel"))
		return
	}

	m.generation++
	newGen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial(newGen, token)
}

// Disconnect intentionally shuts the live channel down and cancels every
// outstanding timer. It is idempotent and safe to call from any state. The
// closed handle's generation is superseded, so its close event is never
// mistaken for an abnormal closure.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.stopHeartbeatLocked()
	if m.reconnectTask != nil {
		m.reconnectTask.Cancel()
		m.reconnectTask = nil
	}
	if m.state != StateIdle && m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	m.poller.Stop()
	if conn != nil {
		_ = conn.Close()
		m.logger.Info().Msg("live channel disconnected")
	}
}

// UpdateFilters records the new criteria (used for subsequent connection
// URLs) and pushes them to the server. The push is a no-op unless connected.
func (m *Manager) UpdateFilters(filters notify.FilterCriteria) error {
	m.mu.Lock()
	m.filters = filters
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteJSON(NewUpdateFiltersMessage(filters)); err != nil {
		return errors.Wrap(err, "failed to send filter update")
	}
	return nil
}

// Acknowledge marks the notification as read locally and, if connected,
// tells the server. The local mutation always happens, so acknowledgement
// works even while polling.
func (m *Manager) Acknowledge(notificationID string) {
	m.buffer.Acknowledge(notificationID)

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteJSON(NewAcknowledgeMessage(notificationID)); err != nil {
		m.logger.Warn().Err(err).Str("notificationId", notificationID).Msg("failed to send acknowledgement")
	}
}

// ClearNotifications empties the notification buffer. The poll watermark and
// connection state are unaffected.
func (m *Manager) ClearNotifications() {
	m.buffer.Clear()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Notifications returns the buffered notifications, most recent first.
func (m *Manager) Notifications() []notify.Notification {
	return m.buffer.Notifications()
}

// UnreadCount returns the number of unread notifications.
func (m *Manager) UnreadCount() int {
	return m.buffer.UnreadCount()
}

func (m *Manager) filtersSnapshot() notify.FilterCriteria {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filters
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.logger.Info().Str("state", s.String()).Msg("connection state changed")

	if m.cfg.OnStateChange != nil {
		go m.cfg.OnStateChange(s)
	}
}

// emitAuthError surfaces the user-visible authentication error at most once
// per session. Must be called without the lock held.
func (m *Manager) emitAuthError(err error) {
	m.mu.Lock()
	if m.authErrorSent {
		m.mu.Unlock()
		return
	}
	m.authErrorSent = true
	m.mu.Unlock()

	if m.cfg.OnAuthError != nil {
		m.cfg.OnAuthError(err)
	}
}

func (m *Manager) startHeartbeatLocked(gen int) {
	m.heartbeatTask = m.scheduler.Every(m.cfg.HeartbeatInterval, func() {
		m.sendPing(gen)
	})
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTask != nil {
		m.heartbeatTask.Cancel()
		m.heartbeatTask = nil
	}
}

func (m *Manager) sendPing(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteJSON(NewPingMessage()); err != nil {
		// The read loop will observe the closure; nothing to do here.
		m.logger.Debug().Err(err).Msg("heartbeat write failed")
	}
}
