// notifywatch connects to an AccessWatch server and renders security
// notifications in the terminal as they arrive, with a REST-polling fallback
// when the live channel is unavailable.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/accesswatch/notify/alerts"
	"github.com/accesswatch/notify/internal/config"
	"github.com/accesswatch/notify/internal/devserver"
	"github.com/accesswatch/notify/notify"
	"github.com/accesswatch/notify/realtime"
)

var version = "dev"

type flags struct {
	configPath  string
	serverURL   string
	token       string
	userID      string
	logLevel    string
	minSeverity string
	demo        bool
}

func main() {
	f := &flags{}

	app := &cli.Command{
		Name:      "notifywatch",
		Usage:     "Watch AccessWatch security notifications in the terminal",
		UsageText: "notifywatch [options]",
		Description: `Connects to an AccessWatch server over the websocket live channel and
prints each security notification as it arrives. When the channel cannot be
established, notifywatch falls back to polling the alert endpoint.

Run 'notifywatch --demo' to try it against an embedded local server that
generates sample alerts.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to TOML config file",
				Sources:     cli.EnvVars("NOTIFYWATCH_CONFIG"),
				Destination: &f.configPath,
			},
			&cli.StringFlag{
				Name:        "server",
				Usage:       "AccessWatch server base URL",
				Sources:     cli.EnvVars("NOTIFYWATCH_SERVER"),
				Destination: &f.serverURL,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "bearer credential",
				Sources:     cli.EnvVars("NOTIFYWATCH_TOKEN"),
				Destination: &f.token,
			},
			&cli.StringFlag{
				Name:        "user",
				Usage:       "user identifier sent on the live channel",
				Destination: &f.userID,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("NOTIFYWATCH_LOG_LEVEL"),
				Destination: &f.logLevel,
			},
			&cli.StringFlag{
				Name:        "min-severity",
				Usage:       "only deliver notifications at or above this severity",
				Destination: &f.minSeverity,
			},
			&cli.BoolFlag{
				Name:        "demo",
				Usage:       "run against an embedded local server with sample alerts",
				Destination: &f.demo,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, f)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "notifywatch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags) error {
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	if f.demo {
		serverURL, token, stop, err := startDemoServer(logger)
		if err != nil {
			return err
		}
		defer stop()
		cfg.ServerURL = serverURL
		cfg.Token = token
	}

	channelURL, err := liveChannelURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	token := func() string { return cfg.Token }
	source := alerts.NewClient(cfg.ServerURL, token, logger)

	manager, err := realtime.NewManager(realtime.Config{
		URL:                  channelURL,
		UserID:               cfg.UserID,
		Token:                token,
		Filters:              cfg.FilterCriteria(),
		HeartbeatInterval:    cfg.HeartbeatInterval.Std(),
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectBaseDelay:   cfg.Reconnect.BaseDelay.Std(),
		ReconnectMaxDelay:    cfg.Reconnect.MaxDelay.Std(),
		Poll: realtime.PollerConfig{
			Interval: cfg.Poll.Interval.Std(),
			Window:   cfg.Poll.Window,
			Limit:    cfg.Poll.Limit,
		},
		BufferCapacity: cfg.BufferCapacity,
		Toaster:        &terminalToaster{out: os.Stdout},
		OnStateChange: func(s realtime.State) {
			logger.Info().Str("state", s.String()).Msg("connection state")
		},
		OnAuthError: func(err error) {
			logger.Error().Err(err).Msg("authentication failed; live updates degraded to polling")
		},
		Logger: logger,
	}, source)
	if err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Str("server", cfg.ServerURL).Msg("watching for security notifications")
	manager.Connect()

	<-signalCtx.Done()

	manager.Disconnect()
	logger.Info().Int("unread", manager.UnreadCount()).Msg("stopped")
	return nil
}

// resolveConfig merges the config file (when given) with command-line flags.
// Flags win.
func resolveConfig(f *flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if f.serverURL != "" {
		cfg.ServerURL = f.serverURL
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.userID != "" {
		cfg.UserID = f.userID
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.minSeverity != "" {
		cfg.Filters.MinSeverity = f.minSeverity
	}

	if !f.demo && cfg.ServerURL == "" {
		return config.Config{}, errors.New("a server URL is required (--server, NOTIFYWATCH_SERVER, or config file)")
	}
	if err := cfg.Validate(); !f.demo && err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "invalid log level %q", level)
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger(), nil
}

// liveChannelURL derives the websocket endpoint from the server base URL.
func liveChannelURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid server URL %q", serverURL)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws"
	return u.String(), nil
}

// startDemoServer runs an embedded devserver on a loopback port and feeds it
// sample notifications until stopped.
func startDemoServer(logger zerolog.Logger) (serverURL, token string, stop func(), err error) {
	token = uuid.NewString()
	server := devserver.New(devserver.Options{Token: token, Logger: logger.Level(zerolog.WarnLevel)})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", nil, errors.Wrap(err, "failed to start demo server")
	}

	httpServer := &http.Server{Handler: server}
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error().Err(serveErr).Msg("demo server stopped")
		}
	}()

	done := make(chan struct{})
	go generateDemoTraffic(server, done)

	stop = func() {
		close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return "http://" + listener.Addr().String(), token, stop, nil
}

func generateDemoTraffic(server *devserver.Server, done <-chan struct{}) {
	samples := []struct {
		typ      notify.Type
		severity notify.Severity
		title    string
		message  string
	}{
		{notify.TypePermissionChange, notify.SeverityMedium, "Permission Changed", "share 'finance' is now writable by group 'interns'"},
		{notify.TypeNewAccessGranted, notify.SeverityHigh, "New Access Granted", "external account granted access to '/srv/shared/payroll'"},
		{notify.TypeAlertTriggered, notify.SeverityCritical, "Critical Security Alert", "mass file deletion detected on share 'engineering'"},
		{notify.TypeGroupMembershipChange, notify.SeverityLow, "Group Membership Changed", "user jdoe added to group 'auditors'"},
		{notify.TypeSystemStatus, notify.SeverityLow, "System Status", "nightly permission scan completed"},
	}

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		sample := samples[i%len(samples)]
		server.AddAlert(sample.severity, sample.message)
		server.Push(notify.Notification{
			ID:        uuid.NewString(),
			Type:      sample.typ,
			Title:     sample.title,
			Message:   sample.message,
			Severity:  sample.severity,
			Timestamp: time.Now(),
		})
	}
}

// terminalToaster renders toasts as colored terminal lines.
type terminalToaster struct {
	out *os.File
}

func (t *terminalToaster) Toast(style notify.ToastStyle, message string) {
	label := "INFO"
	color := "\033[36m"
	switch style {
	case notify.ToastError:
		label, color = "ALERT", "\033[31m"
	case notify.ToastWarning:
		label, color = "WARN", "\033[33m"
	}
	fmt.Fprintf(t.out, "%s[%s]\033[0m %s\n", color, label, message)
}
