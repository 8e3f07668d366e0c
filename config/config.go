package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"feedwatch.sqlite"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	// Optional TOML file with extra content cleanup rules
	CleanupRulesPath string `env:"CLEANUP_RULES_PATH"`

	Fetch struct {
		Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
		MaxRedirects int           `env:"MAX_REDIRECTS" envDefault:"5"`
		MaxBodyBytes int64         `env:"MAX_BODY_BYTES" envDefault:"10485760"`
		AppName      string        `env:"APP_NAME" envDefault:"feedwatch"`
		Build        string        `env:"BUILD"`
		Contact      string        `env:"CONTACT"`
	} `envPrefix:"FETCH_"`

	Schedule struct {
		DefaultInterval  time.Duration `env:"DEFAULT_INTERVAL" envDefault:"60m"`
		MinInterval      time.Duration `env:"MIN_INTERVAL" envDefault:"60m"`
		CacheMinInterval time.Duration `env:"CACHE_MIN_INTERVAL" envDefault:"10m"`
	} `envPrefix:"SCHEDULE_"`

	Poller struct {
		WakeupInterval time.Duration `env:"WAKEUP_INTERVAL" envDefault:"1m"`
		Concurrency    int           `env:"CONCURRENCY" envDefault:"8"`
		BatchSize      int           `env:"BATCH_SIZE" envDefault:"50"`
		RatePerSecond  float64       `env:"RATE_PER_SECOND" envDefault:"20"`
	} `envPrefix:"POLLER_"`

	WebSub struct {
		Enabled         bool          `env:"ENABLED" envDefault:"true"`
		Lease           time.Duration `env:"LEASE" envDefault:"240h"`
		RenewBefore     time.Duration `env:"RENEW_BEFORE" envDefault:"24h"`
		ChallengeWindow time.Duration `env:"CHALLENGE_WINDOW" envDefault:"1h"`
		RenewInterval   time.Duration `env:"RENEW_INTERVAL" envDefault:"15m"`
	} `envPrefix:"WEBSUB_"`

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		return nil, err
	}
	cfg.creds = creds

	log.Sugar().Infow("Config loaded", "environment", cfg.Env, "websub_enabled", cfg.WebSub.Enabled)
	return cfg, nil
}

// GetCreds returns the management API users, or nil when auth is disabled.
func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if strings.TrimSpace(cfg.BasicAuthCreds) == "" {
		return nil, nil
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
