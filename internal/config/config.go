package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	EnvLocal      = "local"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "your-secret-key", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret       string        `env:"JWT_SECRET,required"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"navigapp-api"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"navigapp-frontend"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"2160h"`
	AuthHashTTL     time.Duration `env:"AUTH_HASH_TTL" envDefault:"10m"`

	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN,required"`
	TelegramBotUsername   string `env:"TELEGRAM_BOT_USERNAME"`
	TelegramWebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET"`
	BotAPIKey             string `env:"BOT_API_KEY"`
	WebAppBaseURL         string `env:"WEBAPP_BASE_URL,required"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	DemoAuthEnabled    bool     `env:"DEMO_AUTH_ENABLED" envDefault:"false"`
	MigrateOnStart     bool     `env:"MIGRATE_ON_START" envDefault:"false"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func (c *Config) IsLocal() bool {
	return c.AppEnv == EnvLocal
}

func (c *Config) Validate() error {
	switch c.AppEnv {
	case EnvLocal, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV must be one of local, staging, production (got %q)", c.AppEnv)
	}

	if !c.IsLocal() {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
	}

	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL (%s) must be positive and shorter than REFRESH_TOKEN_TTL (%s)",
			c.AccessTokenTTL, c.RefreshTokenTTL)
	}
	if c.AuthHashTTL <= 0 {
		return fmt.Errorf("AUTH_HASH_TTL must be positive")
	}

	// The webhook route is always mounted, so it always needs its secret.
	if c.TelegramWebhookSecret == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required")
	}

	if c.DemoAuthEnabled && !c.IsLocal() {
		return fmt.Errorf("DEMO_AUTH_ENABLED is only allowed with APP_ENV=local")
	}

	if c.IsProduction() {
		if err := validateSecret("BOT_API_KEY", c.BotAPIKey); err != nil {
			return err
		}
		if !strings.HasPrefix(c.WebAppBaseURL, "https://") {
			log.Warn().Msg("WEBAPP_BASE_URL is not https in production: deep links will be rejected by Telegram clients")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if strings.EqualFold(value, weak) {
			return fmt.Errorf("%s is a known weak default; set a strong secret", name)
		}
	}
	return nil
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
