// DrSprinto agent: device compliance scanning for Sprinto.
//
// The agent serves the local scan endpoint that the Sprinto web app and
// the desktop shell call, scans on a schedule, and reports results to
// Sprinto when the device is connected to an account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goSprinto/stethoscope-app/internal/partition"
	"github.com/goSprinto/stethoscope-app/internal/reporting"
	"github.com/goSprinto/stethoscope-app/internal/scan"
	"github.com/goSprinto/stethoscope-app/internal/scheduler"
	"github.com/goSprinto/stethoscope-app/internal/sdnotify"
	"github.com/goSprinto/stethoscope-app/internal/service"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "drsprinto-agent",
		Short:        "DrSprinto device compliance agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (optional)")

	root.AddCommand(
		newRunCmd(&configPath),
		newScanCmd(&configPath),
		newReportCmd(&configPath),
		newStatusCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drsprinto-agent %s (built %s)\n", Version, BuildTime)
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the scan endpoint and scan on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if service.IsWindowsService() {
				return service.Run(&service.Handler{
					RunFunc: func(ctx context.Context) error { return runAgent(ctx, *configPath, nil) },
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, *configPath, cmd.ErrOrStderr())
		},
	}
}

// runAgent is the daemon. It returns when ctx is cancelled, either by the
// SCM or by a signal.
func runAgent(ctx context.Context, configPath string, console io.Writer) error {
	a, err := newApp(configPath, console, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log
	log.Info("DrSprinto agent starting", zap.String("version", Version), zap.String("platform", a.platform))

	a.pruneAlerts()

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
	}
	srv, err := a.newServer(a.logEvents())
	if err != nil {
		ln.Close()
		return err
	}
	sched, err := a.newScheduler(a.scanClient(ln))
	if err != nil {
		ln.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })

	events, unsubscribe := sched.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				logScanEvent(log, ev)
			}
		}
	})

	sched.Start(gctx)

	if err := sdnotify.Notify("READY=1", "STATUS=listening on "+ln.Addr().String()); err != nil {
		log.Warn("sd_notify failed", zap.Error(err))
	}

	<-gctx.Done()
	log.Info("shutting down")
	sdnotify.Stopping()
	sched.Stop()
	return g.Wait()
}

func logScanEvent(log *zap.Logger, ev scheduler.Event) {
	fields := []zap.Field{
		zap.String("trigger", string(ev.Trigger)),
		zap.Int("attempts", ev.Attempts),
		zap.Duration("took", ev.Took),
	}
	if ev.Err != nil {
		log.Warn("scan finished with error", append(fields, zap.Error(ev.Err))...)
		return
	}
	fields = append(fields,
		zap.String("status", string(ev.Result.Status)),
		zap.Int("critical", len(ev.Partition.Critical)),
		zap.Int("suggested", len(ev.Partition.Suggested)),
		zap.Bool("reported", ev.Reported),
	)
	if ev.ReportErr != nil {
		fields = append(fields, zap.Error(ev.ReportErr))
	}
	log.Info("scan finished", fields...)
}

// scanOutput is what the scan command prints.
type scanOutput struct {
	Result    any                 `json:"result"`
	Device    any                 `json:"device"`
	Partition partition.Partition `json:"partition"`
	Timing    scan.Timing         `json:"timing"`
	Attempts  int                 `json:"attempts"`
}

func newScanCmd(configPath *string) *cobra.Command {
	var policyPath string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan once against a policy and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if policyPath != "" {
				a.cfg.PolicyFile = policyPath
			}
			sched, err := a.newScheduler(nil)
			if err != nil {
				return err
			}

			out, parts, err := a.oneShot(cmd.Context(), sched.Policy())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scanOutput{
				Result:    out.Result,
				Device:    out.Device,
				Partition: parts,
				Timing:    out.Timing,
				Attempts:  out.Attempts,
			})
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy file (YAML or JSON); defaults to the synced or bundled policy")
	return cmd
}

func newReportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Scan once and report the result to Sprinto",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			srv, err := a.newServer(nil)
			if err != nil {
				ln.Close()
				return err
			}
			sched, err := a.newScheduler(a.scanClient(ln))
			if err != nil {
				ln.Close()
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			served := make(chan error, 1)
			go func() { served <- srv.Serve(ctx, ln) }()
			defer func() {
				cancel()
				<-served
			}()

			if err := sched.SyncPolicy(ctx, true); err != nil {
				return errors.New(reporting.UserMessage(err))
			}
			ev, err := sched.ForceScan(ctx)
			if err != nil {
				return err
			}
			switch {
			case ev.ReportErr != nil:
				return errors.New(reporting.UserMessage(ev.ReportErr))
			case !ev.Reported:
				if err := sched.ForceReport(ctx); err != nil {
					return errors.New(reporting.UserMessage(err))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reported %s\n", ev.Result.Status)
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted schedule and connection state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath, nil, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			sched, err := a.newScheduler(nil)
			if err != nil {
				return err
			}
			state, err := sched.State()
			if err != nil {
				a.log.Warn("schedule state partly unreadable", zap.Error(err))
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Connected bool            `json:"connected"`
				FirstName string          `json:"firstName,omitempty"`
				Schedule  scheduler.State `json:"schedule"`
				Version   string          `json:"version"`
			}{a.creds.Connected(), a.creds.FirstName(), state, Version})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
