package realtime

// State is the connection lifecycle state of the Manager.
type State int

const (
	// StateIdle means no connection has been attempted yet.
	StateIdle State = iota

	// StateConnecting means a live-channel dial is in flight.
	StateConnecting

	// StateConnected means the live channel is established and delivering.
	StateConnected

	// StateDisconnected means the live channel is down. The manager may be
	// waiting on a reconnect delay, or the condition may be terminal
	// (missing or rejected credential).
	StateDisconnected

	// StatePolling means the reconnect budget is exhausted and the session
	// has shifted permanently to the fallback poller. Polling is absorbing:
	// once entered, the live channel is never attempted again.
	StatePolling
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}
