package notify

import "sync"

// DefaultBufferCapacity is the number of notifications retained per session.
const DefaultBufferCapacity = 100

// Buffer is a bounded, ordered store of delivered notifications with
// read/unread state. Insertion is always at the head (most recent first);
// when capacity is exceeded the oldest entry is silently dropped.
// Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	entries  []Notification
}

// NewBuffer creates a buffer with the given capacity.
// A capacity of zero or less falls back to DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]Notification, 0, capacity),
	}
}

// Push inserts a notification at the head of the buffer, evicting the
// oldest entry if the buffer is full.
func (b *Buffer) Push(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append([]Notification{n}, b.entries...)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[:b.capacity]
	}
}

// Acknowledge marks the notification with the given ID as read.
// It is a no-op if the ID is absent and does not change ordering.
// Returns true if a matching entry was found.
func (b *Buffer) Acknowledge(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries[i].Read = true
			return true
		}
	}
	return false
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = b.entries[:0]
}

// UnreadCount returns the number of unread notifications.
func (b *Buffer) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for i := range b.entries {
		if !b.entries[i].Read {
			count++
		}
	}
	return count
}

// Len returns the number of buffered notifications.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries)
}

// Notifications returns a copy of the buffered notifications, most recent
// first.
func (b *Buffer) Notifications() []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Notification, len(b.entries))
	copy(out, b.entries)
	return out
}
