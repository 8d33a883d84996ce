package realtime

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/notify/alerts"
	"github.com/accesswatch/notify/notify"
)

const testChannelURL = "wss://watch.example.com/api/v1/ws"

type managerFixture struct {
	manager   *Manager
	dialer    *MockDialer
	scheduler *MockScheduler
	source    *MockAlertSource
	toaster   *mockToaster

	mu       sync.Mutex
	authErrs []error
}

func (f *managerFixture) authErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]error, len(f.authErrs))
	copy(out, f.authErrs)
	return out
}

func newManagerFixture(t *testing.T, mutate func(*Config)) *managerFixture {
	t.Helper()

	f := &managerFixture{
		dialer:    &MockDialer{},
		scheduler: NewMockScheduler(),
		source:    &MockAlertSource{},
		toaster:   &mockToaster{},
	}

	cfg := Config{
		URL:     testChannelURL,
		Token:   func() string { return "valid-token" },
		Toaster: f.toaster,
		OnAuthError: func(err error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.authErrs = append(f.authErrs, err)
		},
		Logger: zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	manager, err := NewManager(cfg, f.source)
	require.NoError(t, err)
	manager.SetDialer(f.dialer)
	manager.SetScheduler(f.scheduler)

	f.manager = manager
	return f
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, m.State())
}

// waitForAfters blocks until the scheduler has recorded n one-shot tasks and
// returns the most recent one.
func waitForAfters(t *testing.T, s *MockScheduler, n int) *MockTask {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Afters()) == n
	}, 2*time.Second, 5*time.Millisecond)
	afters := s.Afters()
	return afters[len(afters)-1]
}

func TestNewManager_Validate(t *testing.T) {
	t.Run("url is required", func(t *testing.T) {
		_, err := NewManager(Config{Token: func() string { return "t" }}, &MockAlertSource{})
		assert.Error(t, err)
	})

	t.Run("credential source is required", func(t *testing.T) {
		_, err := NewManager(Config{URL: testChannelURL}, &MockAlertSource{})
		assert.Error(t, err)
	})
}

func TestManager_Connect(t *testing.T) {
	t.Run("delivers live notifications to buffer and toaster", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)

		conn := f.dialer.LastConn()
		require.NotNil(t, conn)

		conn.Push(NewConnectionEstablishedMessage("c-1"))
		conn.Push(notify.Notification{
			ID:       "srv-1",
			Type:     notify.TypeAlertTriggered,
			Severity: notify.SeverityCritical,
			Message:  "root login from unknown host",
		})
		conn.Push(NewPongMessage())

		require.Eventually(t, func() bool {
			return len(f.manager.Notifications()) == 1
		}, 2*time.Second, 5*time.Millisecond)

		got := f.manager.Notifications()
		assert.Equal(t, "srv-1", got[0].ID)
		assert.Equal(t, 1, f.manager.UnreadCount())

		// Control messages never reach the toaster; the notification does.
		calls := f.toaster.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, notify.ToastError, calls[0].style)
		assert.Equal(t, "root login from unknown host", calls[0].message)
	})

	t.Run("sends bearer token and query parameters", func(t *testing.T) {
		f := newManagerFixture(t, func(cfg *Config) {
			cfg.UserID = "u-7"
			cfg.Filters = notify.FilterCriteria{MinSeverity: notify.SeverityHigh}
		})

		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)

		url := f.dialer.LastURL()
		assert.Contains(t, url, "user_id=u-7")
		assert.Contains(t, url, "filters=")
	})

	t.Run("is a no-op while connecting or connected", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)

		f.manager.Connect()
		f.manager.Connect()
		assert.Equal(t, 1, f.dialer.Calls())
	})

	t.Run("successful connection resets the retry budget", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		f.dialer.Errs = []error{errors.New("connection refused")}

		f.manager.Connect()

		retry := waitForAfters(t, f.scheduler, 1)
		assert.Equal(t, 5*time.Second, retry.Delay)
		retry.Fire()
		waitForState(t, f.manager, StateConnected)

		assert.Equal(t, 0, f.manager.policy.Attempts())
	})
}

func TestManager_MissingCredential(t *testing.T) {
	f := newManagerFixture(t, func(cfg *Config) {
		cfg.Token = func() string { return "" }
	})

	f.manager.Connect()

	// Terminal: no dial, one user-visible error, polling substitutes.
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Equal(t, 0, f.dialer.Calls())
	assert.Len(t, f.authErrors(), 1)
	assert.True(t, f.manager.poller.Running())

	// Further connect calls change nothing and never repeat the error.
	f.manager.Connect()
	f.manager.Connect()
	assert.Equal(t, 0, f.dialer.Calls())
	assert.Len(t, f.authErrors(), 1)
}

func TestManager_ReconnectExhaustionDegradesToPolling(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.dialer.Errs = []error{
		errors.New("dial 1 failed"),
		errors.New("dial 2 failed"),
		errors.New("dial 3 failed"),
		errors.New("dial 4 failed"),
	}

	f.manager.Connect()

	// Three retries with non-decreasing capped delays.
	retry := waitForAfters(t, f.scheduler, 1)
	assert.Equal(t, 5*time.Second, retry.Delay)
	assert.True(t, f.manager.poller.Running(), "poller active while disconnected")
	retry.Fire()

	retry = waitForAfters(t, f.scheduler, 2)
	assert.Equal(t, 10*time.Second, retry.Delay)
	retry.Fire()

	retry = waitForAfters(t, f.scheduler, 3)
	assert.Equal(t, 15*time.Second, retry.Delay)
	retry.Fire()

	// The fourth failure exhausts the budget: polling, permanently.
	waitForState(t, f.manager, StatePolling)
	assert.Equal(t, 4, f.dialer.Calls())
	assert.Len(t, f.scheduler.Afters(), 3, "no fourth attempt is ever scheduled")
	assert.True(t, f.manager.poller.Running())

	// Polling is absorbing: even an explicit connect call does nothing.
	f.manager.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, f.dialer.Calls())
	assert.Equal(t, StatePolling, f.manager.State())
}

func TestManager_IntentionalDisconnect(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.Connect()
	waitForState(t, f.manager, StateConnected)
	conn := f.dialer.LastConn()

	f.manager.Disconnect()

	assert.True(t, conn.Closed())
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.False(t, f.manager.poller.Running())

	// The close event from our own shutdown must not look abnormal: give the
	// read loop a moment to observe it, then check nothing was scheduled.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.scheduler.Afters(), "intentional close must not schedule a reconnect")
	assert.Equal(t, 1, f.dialer.Calls())

	// Idempotent from any state.
	assert.NotPanics(t, func() {
		f.manager.Disconnect()
		f.manager.Disconnect()
	})
}

func TestManager_AuthFailureCloseIsTerminal(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.Connect()
	waitForState(t, f.manager, StateConnected)

	f.dialer.LastConn().Fail(&websocket.CloseError{Code: CloseCodeAuthFailure, Text: "token revoked"})

	waitForState(t, f.manager, StateDisconnected)
	require.Eventually(t, func() bool {
		return len(f.authErrors()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, f.scheduler.Afters(), "auth failure must not schedule a retry")
	assert.True(t, f.manager.poller.Running())
	assert.True(t, strings.Contains(f.authErrors()[0].Error(), "authentication"))

	// Terminal: connect is refused and the error is never repeated.
	f.manager.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Calls())
	assert.Len(t, f.authErrors(), 1)
}

func TestManager_AuthRejectedHandshakeIsTerminal(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.dialer.Errs = []error{errors.Wrap(ErrAuthRejected, "handshake failed with HTTP 401")}

	f.manager.Connect()

	waitForState(t, f.manager, StateDisconnected)
	require.Eventually(t, func() bool {
		return len(f.authErrors()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.scheduler.Afters())
}

func TestManager_StaleCloseEventIgnored(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.Connect()
	waitForState(t, f.manager, StateConnected)

	// A close event for a superseded generation must be discarded.
	f.manager.handleClose(0, errors.New("stale socket closed"))

	assert.Equal(t, StateConnected, f.manager.State())
	assert.Empty(t, f.scheduler.Afters())
}

func TestManager_CanceledRetryNeverFires(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.dialer.Errs = []error{errors.New("dial failed")}

	f.manager.Connect()
	retry := waitForAfters(t, f.scheduler, 1)

	f.manager.Disconnect()
	retry.Fire()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Calls(), "retry for a superseded handle must be discarded")
}

func TestManager_Heartbeat(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.Connect()
	waitForState(t, f.manager, StateConnected)
	conn := f.dialer.LastConn()

	everys := f.scheduler.Everys()
	require.Len(t, everys, 1)
	assert.Equal(t, DefaultHeartbeatInterval, everys[0].Delay)

	f.scheduler.FireEverys(DefaultHeartbeatInterval)
	f.scheduler.FireEverys(DefaultHeartbeatInterval)

	writes := conn.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, NewPingMessage(), writes[0])

	// The reply is recognized and silently discarded.
	conn.Push(NewPongMessage())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.manager.Notifications())
	assert.Empty(t, f.toaster.Calls())
}

func TestManager_MalformedMessageDropped(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.Connect()
	waitForState(t, f.manager, StateConnected)
	conn := f.dialer.LastConn()

	conn.PushRaw([]byte("{this is not json"))
	conn.Push(notify.Notification{ID: "srv-2", Type: notify.TypeSystemStatus, Severity: notify.SeverityLow, Message: "all clear"})

	require.Eventually(t, func() bool {
		return len(f.manager.Notifications()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The malformed frame neither crashed the manager nor broke the channel.
	assert.Equal(t, StateConnected, f.manager.State())
	assert.Equal(t, "srv-2", f.manager.Notifications()[0].ID)
}

func TestManager_UpdateFilters(t *testing.T) {
	t.Run("no-op when not connected", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		err := f.manager.UpdateFilters(notify.FilterCriteria{MinSeverity: notify.SeverityHigh})
		assert.NoError(t, err)
		assert.Equal(t, 0, f.dialer.Calls())
	})

	t.Run("stored criteria are used on a later connect", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		require.NoError(t, f.manager.UpdateFilters(notify.FilterCriteria{MinSeverity: notify.SeverityHigh}))
		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)

		assert.Contains(t, f.dialer.LastURL(), "filters=")
	})

	t.Run("sends a control message while connected", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)

		filters := notify.FilterCriteria{Types: []notify.Type{notify.TypeAccessRemoved}}
		require.NoError(t, f.manager.UpdateFilters(filters))

		writes := f.dialer.LastConn().Writes()
		require.Len(t, writes, 1)
		assert.Equal(t, NewUpdateFiltersMessage(filters), writes[0])
	})
}

func TestManager_Acknowledge(t *testing.T) {
	t.Run("while connected mutates buffer and notifies the server", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		f.manager.Connect()
		waitForState(t, f.manager, StateConnected)
		conn := f.dialer.LastConn()

		conn.Push(notify.Notification{ID: "srv-1", Type: notify.TypeSystemStatus, Severity: notify.SeverityLow, Message: "m"})
		require.Eventually(t, func() bool {
			return f.manager.UnreadCount() == 1
		}, 2*time.Second, 5*time.Millisecond)

		f.manager.Acknowledge("srv-1")

		assert.Equal(t, 0, f.manager.UnreadCount())
		writes := conn.Writes()
		require.Len(t, writes, 1)
		assert.Equal(t, NewAcknowledgeMessage("srv-1"), writes[0])
	})

	t.Run("works locally regardless of connection state", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		// Seed the buffer directly; the manager is not connected.
		f.manager.deliver(notify.Notification{ID: "alert-9", Type: notify.TypeAlertTriggered, Severity: notify.SeverityLow, Message: "m"})
		require.Equal(t, 1, f.manager.UnreadCount())

		f.manager.Acknowledge("alert-9")
		assert.Equal(t, 0, f.manager.UnreadCount())
	})
}

func TestManager_SourceAgnosticDispatch(t *testing.T) {
	const message = "root login from unknown host"

	// Path one: the live channel.
	live := newManagerFixture(t, nil)
	live.manager.Connect()
	waitForState(t, live.manager, StateConnected)
	live.dialer.LastConn().Push(notify.Notification{
		ID:       "srv-1",
		Type:     notify.TypeAlertTriggered,
		Severity: notify.SeverityCritical,
		Message:  message,
	})
	require.Eventually(t, func() bool {
		return len(live.toaster.Calls()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Path two: the fallback poller, after the retry budget is exhausted.
	polled := newManagerFixture(t, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 1
	})
	polled.dialer.Errs = []error{errors.New("dial 1 failed"), errors.New("dial 2 failed")}
	polled.source.QueueResult([]alerts.Alert{{ID: 1, Severity: notify.SeverityLow, Message: "old"}})
	polled.source.QueueResult([]alerts.Alert{
		{ID: 1, Severity: notify.SeverityLow, Message: "old"},
		{ID: 2, Severity: notify.SeverityCritical, Message: message},
	})

	polled.manager.Connect()
	retry := waitForAfters(t, polled.scheduler, 1)
	retry.Fire()
	waitForState(t, polled.manager, StatePolling)

	polled.scheduler.FireEverys(DefaultPollInterval) // primes the watermark
	polled.scheduler.FireEverys(DefaultPollInterval) // emits the delta

	require.Eventually(t, func() bool {
		return len(polled.toaster.Calls()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Both sources produce the identical presentation side-effect.
	assert.Equal(t, live.toaster.Calls(), polled.toaster.Calls())
	assert.Equal(t, notify.ToastError, polled.toaster.Calls()[0].style)
	assert.Equal(t, message, polled.toaster.Calls()[0].message)
}

func TestManager_ClearNotifications(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.manager.deliver(notify.Notification{ID: "n1", Type: notify.TypeSystemStatus, Severity: notify.SeverityLow})
	f.manager.deliver(notify.Notification{ID: "n2", Type: notify.TypeSystemStatus, Severity: notify.SeverityLow})
	require.Equal(t, 2, len(f.manager.Notifications()))

	f.manager.ClearNotifications()
	assert.Empty(t, f.manager.Notifications())
	assert.Equal(t, 0, f.manager.UnreadCount())
}

// mockToaster records presentation side-effects for assertions
type mockToaster struct {
	mu    sync.Mutex
	calls []toastCall
}

type toastCall struct {
	style   notify.ToastStyle
	message string
}

func (m *mockToaster) Toast(style notify.ToastStyle, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, toastCall{style: style, message: message})
}

func (m *mockToaster) Calls() []toastCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]toastCall, len(m.calls))
	copy(out, m.calls)
	return out
}
