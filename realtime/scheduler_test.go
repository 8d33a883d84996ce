package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerScheduler_After(t *testing.T) {
	t.Run("runs once after the delay", func(t *testing.T) {
		s := NewTimerScheduler()
		done := make(chan struct{})

		s.After(5*time.Millisecond, func() {
			close(done)
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task never ran")
		}
	})

	t.Run("cancel prevents the run", func(t *testing.T) {
		s := NewTimerScheduler()
		var ran atomic.Bool

		task := s.After(20*time.Millisecond, func() {
			ran.Store(true)
		})
		task.Cancel()

		time.Sleep(50 * time.Millisecond)
		assert.False(t, ran.Load())
	})
}

func TestTimerScheduler_Every(t *testing.T) {
	t.Run("runs repeatedly until canceled", func(t *testing.T) {
		s := NewTimerScheduler()
		var runs atomic.Int32

		task := s.Every(5*time.Millisecond, func() {
			runs.Add(1)
		})

		assert.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, time.Second, time.Millisecond)

		task.Cancel()
		stopped := runs.Load()
		time.Sleep(30 * time.Millisecond)
		assert.LessOrEqual(t, runs.Load(), stopped+1, "at most one in-flight run after cancel")
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		s := NewTimerScheduler()
		task := s.Every(time.Hour, func() {})

		assert.NotPanics(t, func() {
			task.Cancel()
			task.Cancel()
		})
	})
}
