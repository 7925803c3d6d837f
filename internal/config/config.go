// Package config loads service configuration from the environment with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds settings shared by the schedule API, the outbox relay, and the
// reminder sync worker. Each binary reads the subset it needs.
type Config struct {
	Port            string   `mapstructure:"PORT"`
	MetricsPort     string   `mapstructure:"METRICS_PORT"`
	Env             string   `mapstructure:"ENV"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	KafkaBrokers    []string `mapstructure:"KAFKA_BROKERS"`
	ConsumerGroup   string   `mapstructure:"CONSUMER_GROUP"`
	APIKey          string   `mapstructure:"API_KEY"`
	APIClientID     string   `mapstructure:"API_CLIENT_ID"`
	OTLPEndpoint    string   `mapstructure:"OTLP_ENDPOINT"`
	UsersServiceURL string   `mapstructure:"USERS_SERVICE_URL"`
	// MissedDosePolicy is "terminal" or "allow-late-taken".
	MissedDosePolicy string `mapstructure:"MISSED_DOSE_POLICY"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("METRICS_PORT", "9090")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("CONSUMER_GROUP", "reminder-sync")
	v.SetDefault("API_CLIENT_ID", "local")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("MISSED_DOSE_POLICY", "terminal")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("METRICS_PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("CONSUMER_GROUP")
	v.BindEnv("API_KEY")
	v.BindEnv("API_CLIENT_ID")
	v.BindEnv("OTLP_ENDPOINT")
	v.BindEnv("USERS_SERVICE_URL")
	v.BindEnv("MISSED_DOSE_POLICY")

	// Missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.KafkaBrokers == nil {
		brokers := v.GetString("KAFKA_BROKERS")
		if brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the service runs in development mode. The schedule
// API falls back to in-memory storage in dev when DATABASE_URL is unset.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.MissedDosePolicy {
	case "terminal", "allow-late-taken":
	default:
		return fmt.Errorf("MISSED_DOSE_POLICY must be \"terminal\" or \"allow-late-taken\", got %q", c.MissedDosePolicy)
	}
	if !c.IsDev() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required outside development")
	}
	if !c.IsDev() && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required outside development")
	}
	return nil
}
