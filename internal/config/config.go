package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant        string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SafetyRulesFile      string        `mapstructure:"SAFETY_RULES_FILE"`
	SafetyDigestSchedule string        `mapstructure:"SAFETY_DIGEST_SCHEDULE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "SAFETY_RULES_FILE",
	"SAFETY_DIGEST_SCHEDULE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SAFETY_DIGEST_SCHEDULE", "0 6 * * *")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when no key is set.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set so tokens are verified.
func (c *Config) Validate() error {
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER is required in production")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.SafetyDigestSchedule != "" {
		if _, err := cron.ParseStandard(c.SafetyDigestSchedule); err != nil {
			return fmt.Errorf("SAFETY_DIGEST_SCHEDULE: %w", err)
		}
	}
	return nil
}
