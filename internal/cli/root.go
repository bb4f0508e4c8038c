// Package cli wires the esphub commands. The bare command launches the
// dashboard; subcommands cover scripted use of the same hub API.
package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/config"
	"github.com/espkit/esphub/internal/hubclient"
	"github.com/espkit/esphub/internal/logstore"
	"github.com/espkit/esphub/internal/notify"
	"github.com/espkit/esphub/internal/reconcile"
	"github.com/espkit/esphub/internal/state"
	"github.com/espkit/esphub/internal/tui"
)

var (
	flagConfig  string
	flagServer  string
	flagVerbose bool
)

// runtime holds the shared pieces a command needs. The log store is
// opened separately by commands that archive or read history.
type runtime struct {
	cfg    config.Config
	client *hubclient.Client
	log    *slog.Logger
}

func newRuntime() (runtime, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return runtime{}, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := hubclient.New(cfg.ServerURL).WithUnaryTimeout(cfg.RequestTimeout)
	return runtime{cfg: cfg, client: client, log: logger}, nil
}

func (r runtime) newSupervisor() *channel.Supervisor {
	return channel.NewSupervisor(channel.Config{
		BaseURL:          r.cfg.ServerURL,
		RetryInterval:    r.cfg.LiveRetryInterval,
		RetryLimit:       r.cfg.LiveRetryLimit,
		HandshakeTimeout: r.cfg.HandshakeTimeout,
	}, r.log)
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "esphub",
		Short: "Dashboard and CLI for an ESP32 build hub",
		Long: `esphub talks to an ESP32 build/deploy hub: live project and device
views, a remote file editor, build and deploy triggers, and serial log
tails. Run without arguments for the interactive dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	root.PersistentFlags().StringVar(&flagServer, "server", "", "hub base URL (overrides config)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newProjectsCmd(),
		newBuildCmd(),
		newDeployCmd(),
		newFilesCmd(),
		newLogsCmd(),
		newHistoryCmd(),
		newWatchCmd(),
	)
	return root
}

func runDashboard(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	store := state.NewStore()
	sink := notify.NewSink(rt.cfg.NoticeTTL, rt.cfg.ProgressTTL)

	var recorder reconcile.Recorder
	logs, err := logstore.Open(ctx, rt.cfg.LogDBPath)
	if err != nil {
		// The dashboard is still useful without the archive.
		rt.log.Warn("log archive unavailable", "error", err)
	} else {
		defer logs.Close() //nolint:errcheck
		recorder = logs
		if err := logs.Prune(ctx, rt.cfg.LogRetention); err != nil {
			rt.log.Warn("prune log archive", "error", err)
		}
	}

	rec := reconcile.NewReconciler(store, sink, rt.client, recorder, rt.log)
	sup := rt.newSupervisor()
	defer sup.CloseAll()

	return tui.Run(ctx, tui.Deps{
		Client:     rt.client,
		Supervisor: sup,
		Store:      store,
		Sink:       sink,
		Reconciler: rec,
		Config:     rt.cfg,
		Logger:     rt.log,
	})
}

func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("command failed", "error", err)
		return 1
	}
	return 0
}

// progressDeadline bounds a follow that never sees a terminal event.
const progressDeadline = 30 * time.Minute
