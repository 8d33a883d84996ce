package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/accesswatch/notify/alerts"
)

// MockScheduler records scheduled tasks and lets tests fire them manually
// instead of waiting on real timers.
type MockScheduler struct {
	mu     sync.Mutex
	afters []*MockTask
	everys []*MockTask
}

// NewMockScheduler creates a manual scheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// After implements Scheduler.
func (s *MockScheduler) After(d time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &MockTask{Delay: d, fn: fn}
	s.afters = append(s.afters, task)
	return task
}

// Every implements Scheduler.
func (s *MockScheduler) Every(d time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &MockTask{Delay: d, fn: fn, repeating: true}
	s.everys = append(s.everys, task)
	return task
}

// Afters returns every one-shot task scheduled so far, fired or not.
func (s *MockScheduler) Afters() []*MockTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*MockTask, len(s.afters))
	copy(out, s.afters)
	return out
}

// PendingAfters returns one-shot tasks that are neither fired nor canceled.
func (s *MockScheduler) PendingAfters() []*MockTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*MockTask
	for _, task := range s.afters {
		if !task.Canceled() && !task.Fired() {
			out = append(out, task)
		}
	}
	return out
}

// Everys returns every repeating task scheduled so far.
func (s *MockScheduler) Everys() []*MockTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*MockTask, len(s.everys))
	copy(out, s.everys)
	return out
}

// FireEverys runs every active repeating task with the given interval once.
func (s *MockScheduler) FireEverys(d time.Duration) {
	s.mu.Lock()
	tasks := make([]*MockTask, len(s.everys))
	copy(tasks, s.everys)
	s.mu.Unlock()

	for _, task := range tasks {
		if task.Delay == d && !task.Canceled() {
			task.Fire()
		}
	}
}

// MockTask is a manually fired Task.
type MockTask struct {
	Delay time.Duration

	mu        sync.Mutex
	fn        func()
	repeating bool
	canceled  bool
	fired     bool
}

// Cancel implements Task.
func (t *MockTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.canceled = true
}

// Canceled reports whether the task was canceled.
func (t *MockTask) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.canceled
}

// Fired reports whether the task has run at least once.
func (t *MockTask) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.fired
}

// Fire runs the task unless it was canceled.
func (t *MockTask) Fire() {
	t.mu.Lock()
	if t.canceled || (t.fired && !t.repeating) {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()

	fn()
}

type mockReadResult struct {
	data []byte
	err  error
}

// MockConn is a scriptable live-channel handle.
type MockConn struct {
	mu     sync.Mutex
	reads  chan mockReadResult
	writes []any
	closed bool
}

// NewMockConn creates a connection whose inbound frames are pushed by the
// test.
func NewMockConn() *MockConn {
	return &MockConn{
		reads: make(chan mockReadResult, 16),
	}
}

// ReadMessage implements Conn.
func (c *MockConn) ReadMessage() ([]byte, error) {
	r := <-c.reads
	return r.data, r.err
}

// WriteJSON implements Conn.
func (c *MockConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes = append(c.writes, v)
	return nil
}

// Close implements Conn. It unblocks a pending read with a normal-closure
// error, mirroring how a real handle behaves after the client closes it.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.reads <- mockReadResult{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	return nil
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Writes returns every message written so far.
func (c *MockConn) Writes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

// Push delivers a JSON-encoded inbound frame.
func (c *MockConn) Push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.reads <- mockReadResult{data: data}
}

// PushRaw delivers a raw inbound frame.
func (c *MockConn) PushRaw(data []byte) {
	c.reads <- mockReadResult{data: data}
}

// Fail terminates the next read with the given error.
func (c *MockConn) Fail(err error) {
	c.reads <- mockReadResult{err: err}
}

// MockDialer scripts the outcome of successive dial attempts. When the
// script is exhausted (or empty), each dial succeeds with a fresh MockConn.
type MockDialer struct {
	mu    sync.Mutex
	Errs  []error // consumed one per dial; nil entries succeed
	conns []*MockConn
	calls int
	urls  []string
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.urls = append(d.urls, rawURL)

	if len(d.Errs) > 0 {
		err := d.Errs[0]
		d.Errs = d.Errs[1:]
		if err != nil {
			return nil, err
		}
	}

	conn := NewMockConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Calls returns the number of dial attempts.
func (d *MockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

// LastConn returns the most recently dialed connection, or nil.
func (d *MockDialer) LastConn() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// LastURL returns the most recently dialed URL.
func (d *MockDialer) LastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// MockAlertSource is a scriptable AlertSource.
type MockAlertSource struct {
	mu      sync.Mutex
	results [][]alerts.Alert
	last    []alerts.Alert
	err     error
	calls   int
	opts    []alerts.ListOptions
}

// QueueResult appends one poll result to the script. After the script runs
// out, the last result repeats.
func (s *MockAlertSource) QueueResult(records []alerts.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, records)
}

// SetError makes every subsequent call fail.
func (s *MockAlertSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// List implements AlertSource.
func (s *MockAlertSource) List(ctx context.Context, opts alerts.ListOptions) ([]alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.opts = append(s.opts, opts)

	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return s.last, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	s.last = result
	return result, nil
}

// Calls returns the number of List calls.
func (s *MockAlertSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// LastOptions returns the options of the most recent List call.
func (s *MockAlertSource) LastOptions() alerts.ListOptions {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.opts) == 0 {
		return alerts.ListOptions{}
	}
	return s.opts[len(s.opts)-1]
}
