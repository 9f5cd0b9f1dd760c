// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
	"github.com/marbledao/market-layer/internal/app/royalty"
	"github.com/marbledao/market-layer/pkg/logger"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   logger.Config   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Market    MarketConfig    `yaml:"market"`
	Staking   StakingConfig   `yaml:"staking"`
}

// Duration decodes YAML strings like "5m" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	// DSN is a lib/pq connection string. Empty selects the in-memory
	// store.
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	// Tokens lists accepted bearer tokens. Empty disables auth.
	Tokens []string `yaml:"tokens"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type GatewayConfig struct {
	// Endpoint of the external asset custodian. Empty keeps everything
	// on the in-memory gateway.
	Endpoint     string   `yaml:"endpoint"`
	APIKey       string   `yaml:"api_key"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

// MarketConfig seeds the marketplace configuration singleton on first
// start.
type MarketConfig struct {
	Owner             string          `yaml:"owner"`
	Royalties         []royalty.Entry `yaml:"royalties"`
	RoyaltyCeilingPPM uint64          `yaml:"royalty_ceiling_ppm"`
	Enabled           bool            `yaml:"enabled"`
}

// StakingConfig seeds the staking configuration singleton on first
// start.
type StakingConfig struct {
	Owner             string      `yaml:"owner"`
	RewardDenom       asset.Denom `yaml:"reward_denom"`
	RewardPerInterval uint64      `yaml:"reward_per_interval"`
	Interval          uint64      `yaml:"interval"`
	LockTime          uint64      `yaml:"lock_time"`
	PoolAccount       string      `yaml:"pool_account"`
	Enabled           bool        `yaml:"enabled"`
}

// Load reads the configuration file at path (optional) and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Logging: logger.Config{Level: "info", Format: "text", Output: "stderr"},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Gateway: GatewayConfig{
			Timeout:      Duration(10 * time.Second),
			PollInterval: Duration(5 * time.Second),
		},
		Market: MarketConfig{Enabled: true},
		Staking: StakingConfig{
			RewardDenom: asset.Denom{Kind: asset.Native, Value: "umarble"},
			Interval:    86_400,
			LockTime:    604_800,
			PoolAccount: "escrow",
			Enabled:     true,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setInt(&cfg.Database.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DATABASE_MAX_IDLE_CONNS")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Gateway.Endpoint, "GATEWAY_ENDPOINT")
	setString(&cfg.Gateway.APIKey, "GATEWAY_API_KEY")
	setString(&cfg.Market.Owner, "MARKET_OWNER")
	setString(&cfg.Staking.Owner, "STAKING_OWNER")
	setString(&cfg.Staking.PoolAccount, "STAKING_POOL_ACCOUNT")

	if raw := os.Getenv("AUTH_TOKEN"); raw != "" {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, raw)
	}
}

func setString(dst *string, key string) {
	if raw := os.Getenv(key); raw != "" {
		*dst = raw
	}
}

func setInt(dst *int, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		*dst = parsed
	}
}
