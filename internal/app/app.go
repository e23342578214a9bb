package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/hibiken/asynq"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/gdrivebot/internal/adapter"
	"github.com/jun/gdrivebot/internal/adapter/googledrive"
	"github.com/jun/gdrivebot/internal/adapter/memory"
	"github.com/jun/gdrivebot/internal/auth"
	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/chat"
	"github.com/jun/gdrivebot/internal/config"
	"github.com/jun/gdrivebot/internal/crypto"
	"github.com/jun/gdrivebot/internal/export"
	"github.com/jun/gdrivebot/internal/handler"
	"github.com/jun/gdrivebot/internal/kv"
	"github.com/jun/gdrivebot/internal/ledger"
	"github.com/jun/gdrivebot/internal/queue"
	"github.com/jun/gdrivebot/internal/secret"
	"github.com/jun/gdrivebot/internal/state"
	"github.com/jun/gdrivebot/internal/worker"
)

const (
	WebhookPath = "/webhooks/telegram"
	HealthPath  = "/health"
)

// Options adjusts how NewApp wires the application.
type Options struct {
	// Inline runs uploads inside the webhook request when no queue is
	// configured. Lambda needs this; long-running servers use a worker pool.
	Inline bool
	// Messenger and Drives replace the configured backends.
	Messenger chat.Messenger
	Drives    adapter.StorageProvider
	// HTTPClient is used for OAuth and Telegram calls.
	HTTPClient *http.Client
}

// App holds the dependencies of every entry point.
type App struct {
	service  *export.Service
	callback *handler.CallbackHandler
	webhook  *handler.WebhookHandler
	pool     *worker.Pool
	closers  []func() error
	logger   *slog.Logger
}

// NewLogger builds the root logger from the log settings.
func NewLogger(c config.LogConfig) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadConfig reads the configuration, resolves secrets and validates the result.
func LoadConfig(ctx context.Context, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	var resolver secret.Resolver
	if cfg.Secrets.Backend == config.BackendEnv {
		resolver = secret.NewEnvResolver()
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return cfg, fmt.Errorf("unable to load SDK config: %w", err)
		}
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}
	if err := cfg.ResolveSecrets(ctx, secret.NewCachingResolver(resolver)); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	// Store
	var store kv.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		store = kv.NewMemoryStore()
		logger.Info("using in-memory store")
	default:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store = kv.NewDynamoStore(dynamodb.NewFromConfig(c), cfg.Store.Table)
	}

	// Vault
	var vault crypto.Encryptor
	if cfg.Security.KMSKeyID != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		vault = crypto.NewKMSService(kms.NewFromConfig(c), cfg.Security.KMSKeyID)
	} else {
		v, err := crypto.NewAEADVault(cfg.Security.TokenEncryptionKey)
		if err != nil {
			return nil, err
		}
		vault = v
	}

	codec, err := state.NewCodec([]byte(cfg.Security.StateSigningKey))
	if err != nil {
		return nil, err
	}

	oauthClient := auth.NewOAuthClient(cfg.Google.ClientID, cfg.Google.ClientSecret,
		oauthEndpoint(cfg.Google), httpClient, logger)

	// Storage provider
	drives := opts.Drives
	if drives == nil {
		if cfg.Drive.Backend == config.BackendMemory {
			drives = memory.NewDrive("")
			logger.Info("using in-memory drive")
		} else {
			drives = googledrive.NewProvider(googledrive.Options{
				APIEndpoint: cfg.Google.DriveEndpoint,
				UploadURL:   cfg.Google.UploadURL,
			}, logger)
		}
	}

	// Messenger
	messenger := opts.Messenger
	if messenger == nil {
		switch {
		case cfg.Telegram.BotToken != "":
			m, err := chat.NewTelegramMessenger(cfg.Telegram.BotToken, httpClient, logger)
			if err != nil {
				return nil, err
			}
			messenger = m
		case cfg.DevMode:
			messenger = chat.NewLogMessenger(logger)
			logger.Info("no bot token, logging outgoing messages")
		default:
			return nil, errors.New("telegram bot token is required")
		}
	}

	service := export.NewService(export.Deps{
		Registry:  binding.NewRegistry(store, vault, cfg.Security.BindCodeTTL.Duration, logger),
		Ledger:    ledger.New(store, logger),
		Codec:     codec,
		Vault:     vault,
		OAuth:     oauthClient,
		Drives:    drives,
		Messenger: messenger,
		Logger:    logger,
	}, export.Options{
		RedirectURL:    cfg.RedirectURL(),
		Scopes:         cfg.Google.Scopes,
		StateTTL:       cfg.Security.StateTTL.Duration,
		FolderPrefix:   cfg.Drive.FolderPrefix,
		ParentFolderID: cfg.Drive.ParentFolderID,
	})

	a := &App{service: service, logger: logger}

	// Upload dispatch
	var dispatcher export.Dispatcher
	switch {
	case cfg.Queue.RedisAddr != "":
		client := asynq.NewClient(RedisOpt(cfg.Queue))
		a.closers = append(a.closers, client.Close)
		dispatcher = queue.NewDispatcher(client, logger)
		logger.Info("uploads go through the queue", slog.String("redis_addr", cfg.Queue.RedisAddr))
	case opts.Inline:
		dispatcher = worker.NewInlineDispatcher(service, cfg.Queue.JobTimeout.Duration, logger)
	default:
		a.pool = worker.NewPool(cfg.Queue.Concurrency, cfg.Queue.JobTimeout.Duration)
		dispatcher = worker.NewDispatcher(a.pool, service, logger)
	}

	a.callback = handler.NewCallbackHandler(service, logger)
	a.webhook = handler.NewWebhookHandler(service, dispatcher, messenger, cfg.Telegram.WebhookSecret, logger)
	return a, nil
}

// RedisOpt converts queue settings to asynq connection options.
func RedisOpt(c config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func oauthEndpoint(c config.GoogleConfig) oauth2.Endpoint {
	if c.AuthURL == "" && c.TokenURL == "" {
		return oauth2.Endpoint{}
	}
	endpoint := google.Endpoint
	if c.AuthURL != "" {
		endpoint.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	return endpoint
}

// Service exposes the export service to the queue worker.
func (app *App) Service() *export.Service {
	return app.service
}

// Close waits for in-process uploads and releases connections.
func (app *App) Close() error {
	if app.pool != nil {
		app.pool.Wait()
	}
	var errs []error
	for _, c := range app.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := strings.TrimSuffix(req.Path, "/")
	method := req.HTTPMethod

	app.logger.Debug("request", slog.String("method", method), slog.String("path", path))

	switch {
	case path == HealthPath && method == http.MethodGet:
		return handler.Text(http.StatusOK, "ok"), nil
	case path == config.CallbackPath && method == http.MethodGet:
		return app.must(app.callback.Callback(ctx, req)), nil
	case path == WebhookPath && method == http.MethodPost:
		return app.must(app.webhook.Telegram(ctx, req)), nil
	}
	return handler.NotFound(), nil
}

// must turns a handler error into a 500 response.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", slog.Any("error", err))
		return handler.Text(http.StatusInternalServerError, "Internal Server Error")
	}
	return resp
}
