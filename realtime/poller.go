package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/accesswatch/notify/alerts"
	"github.com/accesswatch/notify/notify"
)

// Fallback polling defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollWindow   = 1 // hours
	DefaultPollLimit    = 50
)

// AlertSource fetches alert records. Satisfied by *alerts.Client.
type AlertSource interface {
	List(ctx context.Context, opts alerts.ListOptions) ([]alerts.Alert, error)
}

// PollerConfig configures the fallback poller. Zero values fall back to the
// defaults above.
type PollerConfig struct {
	Interval time.Duration
	Window   int // hours
	Limit    int
}

func (c *PollerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Window <= 0 {
		c.Window = DefaultPollWindow
	}
	if c.Limit <= 0 {
		c.Limit = DefaultPollLimit
	}
}

// Poller substitutes for the live channel by periodically fetching
// unacknowledged alerts and synthesizing notifications for ones not yet
// seen. It tracks a watermark: the highest alert ID already converted into
// a notification. The very first successful poll only primes the watermark,
// without emitting anything, so a fresh session does not produce a
// notification storm.
type Poller struct {
	source    AlertSource
	scheduler Scheduler
	cfg       PollerConfig
	deliver   func(notify.Notification)
	logger    zerolog.Logger

	mu        sync.Mutex
	task      Task
	watermark int64
	primed    bool
}

// NewPoller creates a poller. Every new notification is handed to deliver;
// for a given poll, deliveries happen in ascending alert-ID order before the
// watermark advances.
func NewPoller(source AlertSource, scheduler Scheduler, cfg PollerConfig, deliver func(notify.Notification), logger zerolog.Logger) *Poller {
	cfg.applyDefaults()
	return &Poller{
		source:    source,
		scheduler: scheduler,
		cfg:       cfg,
		deliver:   deliver,
		logger:    logger,
	}
}

// Start begins periodic polling. Idempotent.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.task != nil {
		return
	}
	p.task = p.scheduler.Every(p.cfg.Interval, p.poll)
	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("fallback poller started")
}

// Stop cancels periodic polling. Idempotent. The watermark is retained so a
// later restart does not re-emit alerts already seen this session.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.task == nil {
		return
	}
	p.task.Cancel()
	p.task = nil
	p.logger.Info().Msg("fallback poller stopped")
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.task != nil
}

// Watermark returns the highest alert ID observed so far.
func (p *Poller) Watermark() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.watermark
}

// poll executes one poll cycle. A failed fetch is simply retried on the next
// interval; the watermark is unchanged.
func (p *Poller) poll() {
	records, err := p.source.List(context.Background(), alerts.ListOptions{
		Acknowledged: false,
		Hours:        p.cfg.Window,
		Limit:        p.cfg.Limit,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("poll failed, will retry on next interval")
		return
	}

	if len(records) == 0 {
		return
	}

	maxID := records[0].ID
	for _, a := range records {
		if a.ID > maxID {
			maxID = a.ID
		}
	}

	p.mu.Lock()
	if !p.primed {
		// First successful poll of the session: there is no "before" state
		// to diff against, so just initialize the watermark.
		p.watermark = maxID
		p.primed = true
		p.mu.Unlock()
		p.logger.Info().Int64("watermark", maxID).Msg("poll watermark initialized")
		return
	}
	watermark := p.watermark
	p.mu.Unlock()

	fresh := make([]alerts.Alert, 0, len(records))
	for _, a := range records {
		if a.ID > watermark {
			fresh = append(fresh, a)
		}
	}
	if len(fresh) == 0 {
		return
	}

	// Oldest new alert first, so a consumer never observes a newer alert
	// before an older one from the same poll.
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].ID < fresh[j].ID
	})

	for _, a := range fresh {
		p.deliver(NewAlertNotification(a))
	}

	p.mu.Lock()
	if maxID > p.watermark {
		p.watermark = maxID
	}
	p.mu.Unlock()

	p.logger.Debug().
		Int("newAlerts", len(fresh)).
		Int64("watermark", maxID).
		Msg("poll cycle completed")
}

// NewAlertNotification converts a polled alert record into a notification.
// Poller-sourced notifications carry a synthesized "alert-<id>" identifier.
func NewAlertNotification(a alerts.Alert) notify.Notification {
	return notify.Notification{
		ID:        fmt.Sprintf("alert-%d", a.ID),
		Type:      notify.TypeAlertTriggered,
		Title:     titleForSeverity(a.Severity),
		Message:   a.Message,
		Severity:  a.Severity,
		Timestamp: a.CreatedAt,
		Data: map[string]any{
			"alert_id": a.ID,
		},
	}
}

func titleForSeverity(s notify.Severity) string {
	switch s {
	case notify.SeverityCritical:
		return "Critical Security Alert"
	case notify.SeverityHigh:
		return "High Severity Alert"
	case notify.SeverityMedium:
		return "Medium Severity Alert"
	default:
		return "Security Alert"
	}
}
