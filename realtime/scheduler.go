package realtime

import (
	"sync"
	"time"
)

// Task represents a scheduled unit of work that can be canceled.
type Task interface {
	Cancel()
}

// Scheduler schedules one-shot and repeating tasks. The Manager owns every
// task it schedules (heartbeat, reconnect delay, poll interval) so teardown
// can positively cancel all of them.
type Scheduler interface {
	// After runs fn once after the given delay.
	After(d time.Duration, fn func()) Task

	// Every runs fn repeatedly at the given interval until canceled.
	Every(d time.Duration, fn func()) Task
}

// TimerScheduler is the production Scheduler backed by the runtime's timers.
type TimerScheduler struct{}

// NewTimerScheduler creates a timer-backed scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// After implements Scheduler.
func (s *TimerScheduler) After(d time.Duration, fn func()) Task {
	return &timerTask{timer: time.AfterFunc(d, fn)}
}

// Every implements Scheduler.
func (s *TimerScheduler) Every(d time.Duration, fn func()) Task {
	t := &tickerTask{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}

	go func() {
		defer t.ticker.Stop()
		for {
			select {
			case <-t.ticker.C:
				fn()
			case <-t.stop:
				return
			}
		}
	}()

	return t
}

type timerTask struct {
	timer *time.Timer
}

func (t *timerTask) Cancel() {
	t.timer.Stop()
}

type tickerTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() {
		close(t.stop)
	})
}
