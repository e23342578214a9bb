package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jun/gdrivebot/internal/app"
	"github.com/jun/gdrivebot/internal/queue"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued Drive uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, concurrency)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (default $GDRIVEBOT_CONFIG or ./config.toml)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel uploads (overrides queue.concurrency)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, concurrency int) error {
	cfg, err := app.LoadConfig(ctx, configPath)
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		return err
	}
	if cfg.Queue.RedisAddr == "" {
		err := errors.New("queue.redis_addr is required")
		logger.Error("cannot start worker", slog.Any("error", err))
		return err
	}
	if concurrency <= 0 {
		concurrency = cfg.Queue.Concurrency
	}

	application, err := app.NewApp(ctx, cfg, app.Options{}, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		return err
	}
	defer application.Close()

	server := asynq.NewServer(app.RedisOpt(cfg.Queue), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue.QueueName: 1},
	})
	processor := queue.NewProcessor(application.Service(), logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started", slog.Int("concurrency", concurrency))
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		return err
	}
	return nil
}
