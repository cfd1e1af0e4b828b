package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forge3d/forge3d/pkg/api"
	"github.com/forge3d/forge3d/pkg/assets"
	"github.com/forge3d/forge3d/pkg/bridge"
	"github.com/forge3d/forge3d/pkg/config"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/scheduler"
	"github.com/forge3d/forge3d/pkg/store"
	"github.com/forge3d/forge3d/pkg/telemetry"
)

// shutdownGrace bounds the drain-stop of the HTTP server.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(logLevel)})
		return serve(cfg)
	},
}

// serve performs the linear startup, runs until a signal, then drains.
// Any initialization failure writes a crash report and exits with code 1.
func serve(cfg config.Config) error {
	logger := log.WithComponent("host")
	dataDir := filepath.Dir(cfg.StorePath)

	fatal := func(phase string, err error) error {
		logger.Error().Err(err).Str("phase", phase).Msg("fatal initialization failure")
		if path, werr := log.WriteCrashReport(dataDir, phase, err); werr == nil {
			logger.Error().Str("report", path).Msg("crash report written")
		}
		os.Exit(1)
		return err
	}

	// 1. Store: open and migrate.
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fatal("store", err)
	}
	defer st.Close()

	// 2. Asset root.
	as, err := assets.New(cfg.AssetRoot)
	if err != nil {
		return fatal("assets", err)
	}

	// 3. Telemetry hub.
	hub := telemetry.NewHub(cfg.Telemetry.RingSize, cfg.Telemetry.LatencyWindow)

	// 4. Bridge supervisor. A worker that cannot start is not fatal; the
	// queue simply waits for it to come up.
	sup := bridge.New(cfg.Bridge, hub)
	ctx := context.Background()
	if cfg.Bridge.Command == "" {
		logger.Warn().Msg("no bridge command configured, generation jobs will wait")
	} else if err := sup.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("inference worker failed to start, will retry via supervision")
	}

	// 5. Scheduler: recover first, then start the loop.
	sched := scheduler.New(st, as, sup, hub)
	if err := sched.Recover(ctx); err != nil {
		return fatal("recovery", err)
	}
	go sched.Run()

	// 6. API last; only now are enqueues admitted.
	srv := api.New(cfg.ListenPort, api.Deps{
		Store:     st,
		Assets:    as,
		Scheduler: sched,
		Bridge:    sup,
		Hub:       hub,
		Errors:    log.NewErrorSink(dataDir),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fatal("api", err)
		}
		return nil
	}

	// Drain-stop: close the listener, stop dequeuing, let the in-flight
	// session reach terminal, then stop the worker.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	sched.Stop()
	if err := sup.Stop(); err != nil {
		logger.Warn().Err(err).Msg("bridge shutdown incomplete")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
