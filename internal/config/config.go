package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	NDJSONDir      string        `mapstructure:"NDJSON_DIR"`
	OutputDir      string        `mapstructure:"OUTPUT_DIR"`
	LogFileName    string        `mapstructure:"LOG_FILE_NAME"`
	CompartmentMap string        `mapstructure:"COMPARTMENT_MAP"`
	Workers        int           `mapstructure:"WORKERS"`
	AutoType       bool          `mapstructure:"AUTO_TYPE"`
	AutoTypeFilter bool          `mapstructure:"AUTO_TYPE_FILTER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	CORSOrigins    []string      `mapstructure:"-"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"ENV", "PORT", "NDJSON_DIR", "OUTPUT_DIR", "LOG_FILE_NAME", "COMPARTMENT_MAP",
	"WORKERS", "AUTO_TYPE", "AUTO_TYPE_FILTER",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"CORS_ORIGINS", "BODY_LIMIT", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8000")
	v.SetDefault("NDJSON_DIR", "./downloads")
	v.SetDefault("OUTPUT_DIR", "./bundles")
	v.SetDefault("LOG_FILE_NAME", "log.ndjson")
	v.SetDefault("COMPARTMENT_MAP", "")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("AUTO_TYPE", true)
	v.SetDefault("AUTO_TYPE_FILTER", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("BODY_LIMIT", "4M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasDatabase reports whether bundles should also be stored in Postgres.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasAuth reports whether any token validation is configured.
func (c *Config) HasAuth() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.NDJSONDir == "" {
		errs = append(errs, errors.New("NDJSON_DIR must not be empty"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting, got %d", c.RateLimitBurst))
	}
	if c.HasDatabase() {
		if c.DBMaxConns < 1 {
			errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns))
		}
		if c.DBMinConns > c.DBMaxConns {
			errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
		}
	}
	return errors.Join(errs...)
}

// ValidateServe additionally refuses to serve the API outside development
// without token validation.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.IsDev() && !c.HasAuth() {
		return fmt.Errorf("ENV=%q requires AUTH_SIGNING_KEY or AUTH_JWKS_URL; refusing to serve patient data without authentication", c.Env)
	}
	return nil
}
