// Package config loads the bot's settings once at start-up. Components get
// the values they need passed to their constructors.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jun/gdrivebot/internal/secret"
)

const (
	DefaultConfigPath = "config.toml"
	// EnvConfigPath names an alternative config file.
	EnvConfigPath = "GDRIVEBOT_CONFIG"

	// CallbackPath is where the identity provider redirects after consent.
	CallbackPath = "/auth/google/callback"

	DefaultHTTPAddr     = ":8080"
	DefaultTable        = "GdriveBot"
	DefaultFolderPrefix = "Chat Uploads"
	DefaultTTL          = 10 * time.Minute
	DefaultConcurrency  = 4
	DefaultJobTimeout   = 10 * time.Minute
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
	BackendGoogle   = "google"
	BackendSSM      = "ssm"
	BackendEnv      = "env"
)

// Duration is a time.Duration written as "10m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	// DevMode selects in-process backends and reads secrets from the environment.
	DevMode  bool           `toml:"dev_mode"`
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Google   GoogleConfig   `toml:"google"`
	Security SecurityConfig `toml:"security"`
	Store    StoreConfig    `toml:"store"`
	Drive    DriveConfig    `toml:"drive"`
	Telegram TelegramConfig `toml:"telegram"`
	Queue    QueueConfig    `toml:"queue"`
	Secrets  SecretsConfig  `toml:"secrets"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SlogLevel parses Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type GoogleConfig struct {
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	RedirectBaseURL string   `toml:"redirect_base_url"`
	AuthURL         string   `toml:"auth_url"`
	TokenURL        string   `toml:"token_url"`
	DriveEndpoint   string   `toml:"drive_endpoint"`
	UploadURL       string   `toml:"upload_url"`
	Scopes          []string `toml:"scopes"`
}

type SecurityConfig struct {
	StateSigningKey    string   `toml:"state_signing_key"`
	TokenEncryptionKey string   `toml:"token_encryption_key"`
	KMSKeyID           string   `toml:"kms_key_id"`
	StateTTL           Duration `toml:"state_ttl"`
	BindCodeTTL        Duration `toml:"bind_code_ttl"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Table   string `toml:"table"`
}

type DriveConfig struct {
	Backend        string `toml:"backend"`
	FolderPrefix   string `toml:"folder_prefix"`
	ParentFolderID string `toml:"parent_folder_id"`
}

type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

type QueueConfig struct {
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	Concurrency   int      `toml:"concurrency"`
	JobTimeout    Duration `toml:"job_timeout"`
}

// SecretsConfig names the parameters secrets are resolved from when they
// are not set directly.
type SecretsConfig struct {
	Backend                 string `toml:"backend"`
	GoogleClientSecretParam string `toml:"google_client_secret_param"`
	StateSigningKeyParam    string `toml:"state_signing_key_param"`
	TokenEncryptionKeyParam string `toml:"token_encryption_key_param"`
	TelegramBotTokenParam   string `toml:"telegram_bot_token_param"`
	WebhookSecretParam      string `toml:"webhook_secret_param"`
}

// RedirectURL is the OAuth redirect URI registered with Google.
func (c Config) RedirectURL() string {
	if c.Google.RedirectBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.Google.RedirectBaseURL, "/") + CallbackPath
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Server:   ServerConfig{Addr: DefaultHTTPAddr},
		Security: SecurityConfig{StateTTL: Duration{DefaultTTL}, BindCodeTTL: Duration{DefaultTTL}},
		Store:    StoreConfig{Backend: BackendDynamoDB, Table: DefaultTable},
		Drive:    DriveConfig{Backend: BackendGoogle, FolderPrefix: DefaultFolderPrefix},
		Queue:    QueueConfig{Concurrency: DefaultConcurrency, JobTimeout: Duration{DefaultJobTimeout}},
		Secrets: SecretsConfig{
			Backend:                 BackendSSM,
			GoogleClientSecretParam: "/gdrivebot/google-client-secret",
			StateSigningKeyParam:    "/gdrivebot/oauth-state-signing-key",
			TokenEncryptionKeyParam: "/gdrivebot/token-encryption-key",
			TelegramBotTokenParam:   "/gdrivebot/telegram-bot-token",
			WebhookSecretParam:      "/gdrivebot/telegram-webhook-secret",
		},
	}
}

// Load reads the TOML file at path, then applies environment overrides.
// An empty path falls back to $GDRIVEBOT_CONFIG and then config.toml; only
// an explicitly named file has to exist.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if p, ok := lookup(EnvConfigPath); ok && p != "" {
			path, explicit = p, true
		} else {
			path = DefaultConfigPath
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) || explicit {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if cfg.DevMode && cfg.Secrets.Backend == BackendSSM {
		cfg.Secrets.Backend = BackendEnv
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	boolean("DEV_MODE", &cfg.DevMode)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("HTTP_ADDR", &cfg.Server.Addr)

	str("GOOGLE_CLIENT_ID", &cfg.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret)
	str("GOOGLE_REDIRECT_BASE_URL", &cfg.Google.RedirectBaseURL)
	str("GOOGLE_AUTH_URL", &cfg.Google.AuthURL)
	str("GOOGLE_TOKEN_URL", &cfg.Google.TokenURL)
	str("GOOGLE_DRIVE_ENDPOINT", &cfg.Google.DriveEndpoint)
	str("GOOGLE_UPLOAD_URL", &cfg.Google.UploadURL)

	str("OAUTH_STATE_SIGNING_KEY", &cfg.Security.StateSigningKey)
	str("TOKEN_ENCRYPTION_KEY", &cfg.Security.TokenEncryptionKey)
	str("KMS_KEY_ID", &cfg.Security.KMSKeyID)
	duration("STATE_TTL", &cfg.Security.StateTTL)
	duration("BIND_CODE_TTL", &cfg.Security.BindCodeTTL)

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("TABLE_NAME", &cfg.Store.Table)

	str("DRIVE_BACKEND", &cfg.Drive.Backend)
	str("DRIVE_FOLDER_PREFIX", &cfg.Drive.FolderPrefix)
	str("DRIVE_PARENT_FOLDER_ID", &cfg.Drive.ParentFolderID)

	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("TELEGRAM_WEBHOOK_SECRET", &cfg.Telegram.WebhookSecret)

	str("REDIS_ADDR", &cfg.Queue.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Queue.RedisPassword)
	integer("REDIS_DB", &cfg.Queue.RedisDB)
	integer("WORKER_CONCURRENCY", &cfg.Queue.Concurrency)
	duration("WORKER_JOB_TIMEOUT", &cfg.Queue.JobTimeout)

	str("SECRETS_BACKEND", &cfg.Secrets.Backend)
	str("GOOGLE_CLIENT_SECRET_PARAM", &cfg.Secrets.GoogleClientSecretParam)
	str("OAUTH_STATE_SIGNING_KEY_PARAM", &cfg.Secrets.StateSigningKeyParam)
	str("TOKEN_ENCRYPTION_KEY_PARAM", &cfg.Secrets.TokenEncryptionKeyParam)
	str("TELEGRAM_BOT_TOKEN_PARAM", &cfg.Secrets.TelegramBotTokenParam)
	str("TELEGRAM_WEBHOOK_SECRET_PARAM", &cfg.Secrets.WebhookSecretParam)

	return errors.Join(errs...)
}

type secretTarget struct {
	param string
	dst   *string
}

// ResolveSecrets fills secrets that are still empty from r. A parameter
// that does not exist is skipped and left to Validate.
func (c *Config) ResolveSecrets(ctx context.Context, r secret.Resolver) error {
	targets := []secretTarget{
		{c.Secrets.GoogleClientSecretParam, &c.Google.ClientSecret},
		{c.Secrets.StateSigningKeyParam, &c.Security.StateSigningKey},
		{c.Secrets.TelegramBotTokenParam, &c.Telegram.BotToken},
		{c.Secrets.WebhookSecretParam, &c.Telegram.WebhookSecret},
	}
	if c.Security.KMSKeyID == "" {
		targets = append(targets, secretTarget{c.Secrets.TokenEncryptionKeyParam, &c.Security.TokenEncryptionKey})
	}

	for _, t := range targets {
		if *t.dst != "" || t.param == "" {
			continue
		}
		v, err := r.GetSecret(ctx, t.param)
		if errors.Is(err, secret.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve %s: %w", t.param, err)
		}
		*t.dst = v
	}
	return nil
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	missing := func(name, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	missing("google.client_id", c.Google.ClientID)
	missing("google.client_secret", c.Google.ClientSecret)
	missing("google.redirect_base_url", c.Google.RedirectBaseURL)
	missing("security.state_signing_key", c.Security.StateSigningKey)
	if c.Security.TokenEncryptionKey == "" && c.Security.KMSKeyID == "" {
		errs = append(errs, errors.New("security.token_encryption_key or security.kms_key_id is required"))
	}
	if !c.DevMode {
		missing("telegram.bot_token", c.Telegram.BotToken)
	}

	switch c.Store.Backend {
	case BackendDynamoDB:
		missing("store.table", c.Store.Table)
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, BackendDynamoDB, BackendMemory))
	}
	if c.Drive.Backend != BackendGoogle && c.Drive.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("drive.backend %q must be %q or %q", c.Drive.Backend, BackendGoogle, BackendMemory))
	}
	if c.Secrets.Backend != BackendSSM && c.Secrets.Backend != BackendEnv {
		errs = append(errs, fmt.Errorf("secrets.backend %q must be %q or %q", c.Secrets.Backend, BackendSSM, BackendEnv))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Security.StateTTL.Duration <= 0 || c.Security.BindCodeTTL.Duration <= 0 {
		errs = append(errs, errors.New("security ttls must be positive"))
	}
	return errors.Join(errs...)
}
