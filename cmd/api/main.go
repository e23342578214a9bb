package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jun/gdrivebot/internal/app"
)

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx, "")
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Background goroutines do not survive a Lambda invocation, so uploads
	// run inline unless a queue is configured.
	application, err := app.NewApp(ctx, cfg, app.Options{Inline: true}, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}
