package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the wallet service configuration.
type Config struct {
	HTTP    HTTPConfig  `yaml:"http"`
	GRPC    GRPCConfig  `yaml:"grpc"`
	Store   StoreConfig `yaml:"store"`
	Auth    AuthConfig  `yaml:"auth"`
	Kafka   KafkaConfig `yaml:"kafka"`
	Log     LogConfig   `yaml:"log"`
	Version string      `yaml:"-"`
}

// HTTPConfig controls the REST listener.
type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	RateBurst  int    `yaml:"rate_burst"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

// GRPCConfig controls the health listener. Empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig controls the Postgres store.
type StoreConfig struct {
	DSN             string        `yaml:"dsn"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
	CodeSweepEvery  time.Duration `yaml:"code_sweep_every"`
}

// AuthConfig holds the identity token settings.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// KafkaConfig configures event publication. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	NotificationTopic string   `yaml:"notification_topic"`
}

// LogConfig sets the zap level ("debug", "info", ...).
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:       ":8080",
			RateBurst:  40,
			RatePerSec: 20,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Store: StoreConfig{
			Timeout:         5 * time.Second,
			MaxOpenConns:    50,
			BreakerFailures: 5,
			BreakerOpenFor:  10 * time.Second,
			CodeSweepEvery:  time.Minute,
		},
		Auth: AuthConfig{Issuer: "campuswallet"},
		Kafka: KafkaConfig{
			Topic:             "wallet.ledger.entries",
			NotificationTopic: "wallet.notifications",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// WALLET_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the API server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn (WALLET_PG_DSN) is required"))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret (WALLET_AUTH_SECRET) is required"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("WALLET_HTTP_ADDR", &cfg.HTTP.Addr)
	str("WALLET_GRPC_ADDR", &cfg.GRPC.Addr)
	str("WALLET_PG_DSN", &cfg.Store.DSN)
	str("WALLET_AUTH_SECRET", &cfg.Auth.Secret)
	str("WALLET_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("WALLET_LOG_LEVEL", &cfg.Log.Level)

	if v := strings.TrimSpace(os.Getenv("WALLET_KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("WALLET_STORE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WALLET_STORE_TIMEOUT: %w", err)
		}
		cfg.Store.Timeout = d
	}
	for key, dst := range map[string]*int{
		"WALLET_RATE_BURST":   &cfg.HTTP.RateBurst,
		"WALLET_RATE_PER_SEC": &cfg.HTTP.RatePerSec,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		*dst = n
	}
	return nil
}
