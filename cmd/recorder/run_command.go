package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"showroom-recorder/internal/platform/config"
	"showroom-recorder/internal/platform/httpclient"
	"showroom-recorder/internal/platform/metrics"
	"showroom-recorder/internal/showroom"
	"showroom-recorder/internal/status"
)

const (
	// drainTimeout covers the longest capture stop sequence.
	drainTimeout    = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the configured rooms and record every broadcast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecorder(cmd.Context(), ctx)
		},
	}
}

func runRecorder(parent context.Context, cc *commandContext) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	log, closer, err := cc.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	base := cc.baseDir()
	if err := ensureDir(base); err != nil {
		return err
	}
	lockPath := filepath.Join(base, "recorder.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another recorder instance is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release lock", "error", err)
		}
	}()

	met := metrics.New()
	reg := status.NewRegistry(met)

	api, err := showroom.NewClient(cfg.APIBaseURL, httpclient.New(nil), cfg.APIRateLimit)
	if err != nil {
		return err
	}
	sup := showroom.NewSupervisor(showroom.SupervisorConfig{
		API:        api,
		Interval:   cfg.PollInterval(),
		NewSession: cc.sessionFactory(cfg, log, met),
		Tracker:    reg,
		Logger:     log,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, err := config.Watch(ctx, cc.configPath(), log)
	if err != nil {
		log.Warn("config hot reload disabled", "error", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           status.NewRouter(status.NewHandler(reg, log, met)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server error", "error", err)
			stop()
		}
	}()

	log.Info("recorder starting",
		"rooms", len(cfg.Users),
		"interval", cfg.PollInterval(),
		"output_dir", cc.outputDir(cfg),
		"listen_addr", cfg.ListenAddr,
		"lock", lockPath,
	)

	runErr := sup.Run(ctx, cfg.Users, updates, drainTimeout)
	log.Info("shutdown signal received, recordings drained")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("recorder stopped")
	return runErr
}
