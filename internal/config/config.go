package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Square   SquareConfig
	Midtrans MidtransConfig
	Notify   NotifyConfig
}

type AppConfig struct {
	Port           string `envconfig:"APP_PORT" default:"8080"`
	AllowedOrigin  string `envconfig:"APP_ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DefaultStoreID string `envconfig:"APP_DEFAULT_STORE_ID" default:"main-store"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"json"`
}

type DBConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"30"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"8"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	CommitTimeout   time.Duration `envconfig:"DB_COMMIT_TIMEOUT" default:"10s"`
}

type RedisConfig struct {
	Addr            string        `envconfig:"REDIS_ADDR"`
	Password        string        `envconfig:"REDIS_PASSWORD"`
	DB              int           `envconfig:"REDIS_DB" default:"0"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"30s"`
}

type AuthConfig struct {
	Secret         string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
}

// GatewayConfig is the platform-wide fallback used by stores without a
// merchant mapping.
type GatewayConfig struct {
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	Enabled []string      `envconfig:"GATEWAY_ENABLED"`
}

type SquareConfig struct {
	Env         string `envconfig:"SQUARE_ENV" default:"sandbox"`
	AccessToken string `envconfig:"SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"SQUARE_LOCATION_ID"`
	Currency    string `envconfig:"SQUARE_CURRENCY" default:"IDR"`
}

type MidtransConfig struct {
	Env       string `envconfig:"MIDTRANS_ENV" default:"sandbox"`
	ServerKey string `envconfig:"MIDTRANS_SERVER_KEY"`
}

type NotifyConfig struct {
	Channels       []string      `envconfig:"NOTIFY_CHANNELS"`
	Timeout        time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	EmailEndpoint  string        `envconfig:"NOTIFY_EMAIL_ENDPOINT" default:"https://api.resend.com/emails"`
	EmailAPIKey    string        `envconfig:"NOTIFY_EMAIL_API_KEY"`
	EmailFrom      string        `envconfig:"NOTIFY_EMAIL_FROM" default:"receipts@kasirpro.local"`
	MessageURL     string        `envconfig:"NOTIFY_MESSAGE_URL"`
	MessageToken   string        `envconfig:"NOTIFY_MESSAGE_TOKEN"`
	StreamName     string        `envconfig:"NOTIFY_STREAM" default:"kasirpro:receipts"`
	StoreName      string        `envconfig:"NOTIFY_STORE_NAME" default:"KasirPro"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Gateway.Enabled = normalizeList(cfg.Gateway.Enabled)
	cfg.Notify.Channels = normalizeList(cfg.Notify.Channels)
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.App.Port)
}

// GatewayEnabled reports whether the global fallback config enables name.
func (c GatewayConfig) GatewayEnabled(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, enabled := range c.Enabled {
		if enabled == name {
			return true
		}
	}
	return false
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
