package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jun/gdrivebot/internal/app"
	"github.com/spf13/cobra"
)

func main() {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the bot webhook and OAuth callback on a local HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, addr)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (default $GDRIVEBOT_CONFIG or ./config.toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := app.LoadConfig(ctx, configPath)
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	application, err := app.NewApp(ctx, cfg, app.Options{}, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		return err
	}

	e := newEcho(application, logger)
	go func() {
		logger.Info("starting local server", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", slog.Any("error", err))
	}
	return application.Close()
}
