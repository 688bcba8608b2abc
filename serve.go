package main

import (
	"context"
	"log/slog"
	"strings"
	gosync "sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/acctsync/internal/config"
	"github.com/tonimelisma/acctsync/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger surface and the retry sweeper",
		Long: `Serve the authenticated sync trigger endpoints and run the retry sweeper
on the configured interval until interrupted.

The configuration is reloaded on SIGHUP ("acctsync reload") and whenever
the config file changes. Sweeper settings apply immediately; provider,
server, store, network, retry, token, accounts and logging changes need a
restart.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("pid-file", config.DefaultPIDPath(), "pid file used by acctsync reload")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if err := config.ValidateServe(cc.Cfg); err != nil {
		return err
	}

	pidPath, err := cmd.Flags().GetString("pid-file")
	if err != nil {
		return err
	}

	release, err := acquirePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := interruptible(cmd.Context(), logger)
	defer stop()

	svc, err := openEngine(ctx, cc.Cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv, err := server.New(server.Config{
		Addr:            cc.Cfg.Server.Listen,
		JWTSecret:       []byte(cc.Cfg.Server.JWTSecret),
		ShutdownTimeout: cc.Cfg.Server.ShutdownTimeoutDuration(),
		MaxBatch:        cc.Cfg.Server.MaxBatch,
		Logger:          logger,
	}, svc.orchestrator, svc.store)
	if err != nil {
		return err
	}

	r := newReloader(cc, svc, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return r.runSweeper(gctx) })

	g.Go(func() error {
		hup := reloadSignals(gctx)

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading config")
				r.reload(gctx)
			}
		}
	})

	g.Go(func() error {
		err := config.Watch(gctx, r.holder.Path(), config.DefaultWatchDebounce, logger, func() {
			logger.Info("config file changed, reloading", slog.String("path", r.holder.Path()))
			r.reload(gctx)
		})
		if err != nil {
			// Without a watchable directory, SIGHUP is still available.
			logger.Warn("config file watch disabled", slog.String("error", err.Error()))
		}

		return nil
	})

	logger.Info("acctsync serving",
		slog.String("listen", cc.Cfg.Server.Listen),
		slog.String("db", cc.Cfg.Store.Path),
		slog.Duration("sweep_interval", cc.Cfg.Sweeper.IntervalDuration()),
	)

	return g.Wait()
}

// reloader owns the live config of a serve process and restarts the sweeper
// loop whenever a reload succeeds.
type reloader struct {
	mu       gosync.Mutex
	holder   *config.Holder
	cli      config.CLIOverrides
	svc      *services
	logger   *slog.Logger
	restart  chan struct{}
	resolver func(config.EnvOverrides, config.CLIOverrides) (*config.Config, error)
}

func newReloader(cc *CLIContext, svc *services, logger *slog.Logger) *reloader {
	return &reloader{
		holder:   config.NewHolder(cc.Cfg, cc.CfgPath),
		cli:      cc.CLI,
		svc:      svc,
		logger:   logger,
		restart:  make(chan struct{}, 1),
		resolver: config.Resolve,
	}
}

// reload re-resolves the config. An invalid config is logged and the
// previous one stays in effect.
func (r *reloader) reload(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.resolver(config.ReadEnvOverrides(), r.cli)
	if err != nil {
		r.logger.Error("config reload failed, keeping previous config", slog.String("error", err.Error()))
		r.svc.audit.Failure(ctx, "", "config.reload", map[string]any{"path": r.holder.Path()}, err)

		return
	}

	if stale := r.holder.Swap(next); len(stale) > 0 {
		r.logger.Warn("config sections changed that need a restart",
			slog.String("sections", strings.Join(stale, ",")))
	}

	r.svc.audit.Info(ctx, "", "config.reload", map[string]any{"path": r.holder.Path()})

	select {
	case r.restart <- struct{}{}:
	default:
	}
}

// runSweeper runs the sweeper loop with the current config, rebuilding it
// after every successful reload.
func (r *reloader) runSweeper(ctx context.Context) error {
	for {
		cfg := r.holder.Config()

		sweeper, err := r.svc.newSweeper(cfg)
		if err != nil {
			return err
		}

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- sweeper.Loop(loopCtx, cfg.Sweeper.IntervalDuration()) }()

		select {
		case <-ctx.Done():
			cancel()
			return <-done
		case <-r.restart:
			cancel()

			if err := <-done; err != nil {
				return err
			}

			r.logger.Info("sweeper restarted with reloaded config",
				slog.Duration("interval", r.holder.Config().Sweeper.IntervalDuration()))
		}
	}
}
