package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/config"
	"github.com/goSprinto/stethoscope-app/internal/device"
	"github.com/goSprinto/stethoscope-app/internal/inspect"
	"github.com/goSprinto/stethoscope-app/internal/logging"
	"github.com/goSprinto/stethoscope-app/internal/partition"
	"github.com/goSprinto/stethoscope-app/internal/probe"
	"github.com/goSprinto/stethoscope-app/internal/reporting"
	"github.com/goSprinto/stethoscope-app/internal/scan"
	"github.com/goSprinto/stethoscope-app/internal/scheduler"
	"github.com/goSprinto/stethoscope-app/internal/security"
	"github.com/goSprinto/stethoscope-app/internal/settings"
	"github.com/goSprinto/stethoscope-app/internal/telemetry"
)

// alertRetention bounds how long per-session notification markers are kept.
const alertRetention = 7 * 24 * time.Hour

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	closeLog  func()
	clock     clock.Clock
	store     *settings.SQLiteStore
	metrics   *telemetry.Metrics
	perf      *telemetry.PerfMonitor
	creds     *reporting.Credentials
	reporter  *reporting.Client
	resolver  *device.Resolver
	practices *partition.Instructions
	platform  string
}

// appOptions override defaults, mostly for tests.
type appOptions struct {
	// Reader replaces the native, host and script probe readers.
	Reader probe.Reader
}

func newApp(configPath string, console io.Writer, opts appOptions) (a *app, err error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogPath(),
		Console: console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}

	a = &app{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		clock:    clock.New(),
		metrics:  telemetry.NewMetrics(),
		platform: compliance.PlatformKey(runtime.GOOS),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = settings.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.perf = telemetry.NewPerfMonitor(a.clock, log)

	a.practices, err = partition.LoadInstructions(cfg.PracticesDir, cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("load practices: %w", err)
	}

	httpClient, certs := reporting.NewHTTPClient(cfg.ExtraCAFile, log)
	for _, w := range certs.Warnings {
		log.Info("certificate setup", zap.String("detail", w))
	}
	for _, e := range certs.Errors {
		log.Error("certificate setup failed", zap.String("detail", e))
	}
	a.creds = reporting.NewCredentials(a.store)
	a.reporter = reporting.NewClient(cfg.APIBaseURL, userAgent(cfg), httpClient, a.creds, a.clock, log)

	reader := opts.Reader
	if reader == nil {
		reader = probe.NewMux(
			probe.NewNativeReader(),
			probe.NewHostReader(),
			probe.NewScriptReader(cfg.ProbeDir, cfg.ProbeTimeout),
		)
	}
	a.resolver = device.NewResolver(security.ForPlatform(runtime.GOOS, log), reader, Version, a.metrics, log)
	return a, nil
}

func userAgent(cfg *config.Config) string {
	return fmt.Sprintf("%s/%s (%s)", cfg.UserAgent, Version, runtime.GOOS)
}

// Close releases the store and flushes logs.
func (a *app) Close() error {
	var result *multierror.Error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close settings: %w", err))
		}
	}
	if a.closeLog != nil {
		a.closeLog()
	}
	return result.ErrorOrNil()
}

func (a *app) newServer(notifier inspect.Notifier) (*inspect.Server, error) {
	origins, err := inspect.NewOriginPolicy(a.cfg.DevMode, a.cfg.AllowHosts, a.cfg.HostLabels)
	if err != nil {
		return nil, err
	}
	return inspect.NewServer(inspect.Options{
		Resolver:  a.resolver,
		Store:     a.store,
		Origins:   origins,
		Connector: a.creds,
		Notifier:  notifier,
		Metrics:   a.metrics.Handler(),
		Perf:      a.perf,
		Clock:     a.clock,
		PollWait:  a.cfg.PollWait,
		Version:   Version,
	}, a.log), nil
}

func (a *app) scanClient(ln net.Listener) *scan.Client {
	// Long polls are bounded by the server's poll wait.
	hc := &http.Client{Timeout: a.cfg.PollWait + 30*time.Second}
	return scan.NewClient("http://"+ln.Addr().String(), hc, a.clock, a.cfg.MaxScanAttempts, a.log)
}

func (a *app) newScheduler(scanner scheduler.Scanner) (*scheduler.Scheduler, error) {
	initial, err := compliance.LoadPolicyFile(a.cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		RescanInterval: a.cfg.RescanInterval(),
		FreshWindow:    a.cfg.FreshWindow(),
		Platform:       a.platform,
	}, scheduler.Deps{
		Scanner:   scanner,
		Reporter:  a.reporter,
		Auth:      a.creds,
		Store:     a.store,
		Practices: a.practices.Practices,
		Metrics:   a.metrics,
		Clock:     a.clock,
	}, initial, a.log), nil
}

// pruneAlerts drops stale per-session notification markers.
func (a *app) pruneAlerts() {
	n, err := a.store.Prune(inspect.AlertedPrefix, alertRetention)
	if err != nil {
		a.log.Warn("prune session markers failed", zap.Error(err))
		return
	}
	if n > 0 {
		a.log.Debug("pruned session markers", zap.Int("count", n))
	}
}

// logEvents writes server events to the log; the desktop shell reads them
// from there.
func (a *app) logEvents() inspect.Notifier {
	log := a.log.Named("events")
	return inspect.NotifierFunc(func(e inspect.Event) {
		fields := []zap.Field{
			zap.String("type", string(e.Type)),
			zap.Bool("remote", e.Remote),
			zap.String("remoteLabel", e.RemoteLabel),
		}
		if e.Status != "" {
			fields = append(fields, zap.String("status", string(e.Status)))
		}
		if e.ShowNotification {
			fields = append(fields, zap.Bool("notify", true))
		}
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}
		log.Info("event", fields...)
	})
}

// oneShot starts a private inspection server on an ephemeral port, runs a
// single scan through it and partitions the result.
func (a *app) oneShot(ctx context.Context, policy compliance.Policy) (*scan.Outcome, partition.Partition, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, partition.Partition{}, fmt.Errorf("listen: %w", err)
	}
	srv, err := a.newServer(nil)
	if err != nil {
		ln.Close()
		return nil, partition.Partition{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	out, err := a.scanClient(ln).Scan(ctx, policy, scan.Options{})
	cancel()
	if serr := <-served; serr != nil {
		a.log.Warn("inspection server stopped with error", zap.Error(serr))
	}
	if err != nil {
		return nil, partition.Partition{}, err
	}
	return out, partition.Compute(out.Result, a.practices.Practices, a.platform, a.log), nil
}
