package notify

import "github.com/rs/zerolog"

// ToastStyle selects the presentation style for a dispatched notification.
type ToastStyle string

const (
	ToastError   ToastStyle = "error"
	ToastWarning ToastStyle = "warning"
	ToastInfo    ToastStyle = "info"
)

// Toaster is the presentation side-effect invoked for each newly produced
// notification. Implementations render the message to the user (a toast,
// a terminal line, a test recorder).
type Toaster interface {
	Toast(style ToastStyle, message string)
}

// ToasterFunc adapts a function to the Toaster interface.
type ToasterFunc func(style ToastStyle, message string)

// Toast implements Toaster.
func (f ToasterFunc) Toast(style ToastStyle, message string) {
	f(style, message)
}

// Dispatcher maps an incoming notification to a presentation side-effect
// based on its severity. The mapping is invoked once per newly produced
// notification regardless of whether it arrived over the live channel or
// was synthesized by the fallback poller.
type Dispatcher struct {
	toaster Toaster
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher targeting the given toaster.
// A nil toaster is allowed; dispatch then only logs.
func NewDispatcher(toaster Toaster, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		toaster: toaster,
		logger:  logger,
	}
}

// Dispatch invokes the presentation side-effect for the notification.
func (d *Dispatcher) Dispatch(n Notification) {
	style := StyleFor(n.Severity)

	d.logger.Debug().
		Str("id", n.ID).
		Str("type", string(n.Type)).
		Str("severity", string(n.Severity)).
		Str("style", string(style)).
		Msg("dispatching notification")

	if d.toaster == nil {
		return
	}
	d.toaster.Toast(style, n.Message)
}

// StyleFor returns the toast style for a severity: critical is an
// error-style alert, high a warning, everything else informational.
func StyleFor(s Severity) ToastStyle {
	switch s {
	case SeverityCritical:
		return ToastError
	case SeverityHigh:
		return ToastWarning
	default:
		return ToastInfo
	}
}
