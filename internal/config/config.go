package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Queue     QueueConfig     `yaml:"queue"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig points at the dead-letter event stream.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// QueueConfig drives the message processor.
type QueueConfig struct {
	MaxAttempts          int        `yaml:"max_attempts"`
	BackoffDelays        []Duration `yaml:"backoff_delays"`
	FallbackPollInterval Duration   `yaml:"fallback_poll_interval"`
}

// SyncConfig identifies this module and maps owner modules to base URLs.
type SyncConfig struct {
	ModuleName string            `yaml:"module_name"`
	Peers      map[string]string `yaml:"peers"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Duration lets yaml carry values like "5s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// BackoffTable converts the configured delays to plain durations.
func (q QueueConfig) BackoffTable() []time.Duration {
	out := make([]time.Duration, 0, len(q.BackoffDelays))
	for _, d := range q.BackoffDelays {
		out = append(out, d.Duration)
	}
	return out
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if len(cfg.Queue.BackoffDelays) == 0 {
		cfg.Queue.BackoffDelays = []Duration{
			{5 * time.Second},
			{30 * time.Second},
			{2 * time.Minute},
		}
	}
	if cfg.Queue.FallbackPollInterval.Duration == 0 {
		cfg.Queue.FallbackPollInterval = Duration{5 * time.Second}
	}
}
