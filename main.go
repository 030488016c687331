package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"thumbforge-server/modules/common/config"
	"thumbforge-server/modules/common/logger"
	"thumbforge-server/modules/reaper"
)

// version - 빌드 시 -ldflags "-X main.version=..." 로 주입
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "thumbforge-server",
		Short:         "Thumbnail generation coordination server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and the reaper schedule",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Mark stale generations as failed once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("❌ Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	logger.Init(os.Getenv("APP_ENV"))
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.Environment)
	return cfg, nil
}

func runSweep(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	swept, err := reaper.New(app.store, app.hub, cfg.ReaperStaleAfter).Sweep(sweepCtx)
	if err != nil {
		return err
	}
	log.Info().Int("swept", swept).Msg("✅ Sweep completed")
	return nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	go app.hub.Run(ctx)

	scheduler := reaper.NewScheduler(reaper.New(app.store, app.hub, cfg.ReaperStaleAfter), cfg.ReaperSchedule)
	if err := scheduler.Start(); err != nil {
		return err
	}

	srv := app.server()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 Thumbforge server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws/generations/{id}", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("👋 Server stopped")
	return nil
}
