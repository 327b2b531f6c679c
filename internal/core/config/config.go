package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PEANUT_"

// Config represents the top-level application config.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Store      StoreConfig      `koanf:"store"`
	Bus        BusConfig        `koanf:"bus"`
	NATS       NATSConfig       `koanf:"nats"`
	Provider   ProviderConfig   `koanf:"provider"`
	Worker     WorkerConfig     `koanf:"worker"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type StoreConfig struct {
	Backend string `koanf:"backend"` // memory | postgres
}

type BusConfig struct {
	Backend           string        `koanf:"backend"` // memory | postgres | jetstream
	VisibilityTimeout time.Duration `koanf:"visibility_timeout"`
	MaxRedeliveries   int           `koanf:"max_redeliveries"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	PublishTimeout    time.Duration `koanf:"publish_timeout"`
}

type NATSConfig struct {
	URL string `koanf:"url"`

	// Embedded starts an in-process JetStream server and ignores URL.
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	StoreDir string `koanf:"store_dir"`

	Stream            string `koanf:"stream"`
	Subject           string `koanf:"subject"`
	DeadLetterStream  string `koanf:"dead_letter_stream"`
	DeadLetterSubject string `koanf:"dead_letter_subject"`
	Durable           string `koanf:"durable"`
}

type ProviderConfig struct {
	BaseURL           string        `koanf:"base_url"`
	AccessToken       string        `koanf:"access_token"`
	APIKey            string        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	MaxPages          int           `koanf:"max_pages"`
}

type WorkerConfig struct {
	Count int `koanf:"count"`
}

type GatewayConfig struct {
	MaxSpanDays     int `koanf:"max_span_days"`
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

type SchedulerConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval"`
	WindowDays int           `koanf:"window_days"`
	RunOnStart bool          `koanf:"run_on_start"`
}

type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// NeedsDatabase reports whether any backend is Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Backend == "postgres" || c.Bus.Backend == "postgres"
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported store.backend %q (must be memory or postgres)", c.Store.Backend)
	}
	switch c.Bus.Backend {
	case "memory", "postgres", "jetstream":
	default:
		return fmt.Errorf("unsupported bus.backend %q (must be memory, postgres or jetstream)", c.Bus.Backend)
	}

	if c.NeedsDatabase() {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	if c.Bus.VisibilityTimeout <= 0 {
		return fmt.Errorf("bus.visibility_timeout must be > 0")
	}
	if c.Bus.MaxRedeliveries < 0 {
		return fmt.Errorf("bus.max_redeliveries must be >= 0")
	}
	if c.Bus.PollInterval <= 0 {
		return fmt.Errorf("bus.poll_interval must be > 0")
	}
	if c.Bus.PublishTimeout <= 0 {
		return fmt.Errorf("bus.publish_timeout must be > 0")
	}

	if c.Bus.Backend == "jetstream" {
		if !c.NATS.Embedded && strings.TrimSpace(c.NATS.URL) == "" {
			return fmt.Errorf("nats.url is required unless nats.embedded is set")
		}
		if c.NATS.Stream == "" || c.NATS.Subject == "" || c.NATS.DeadLetterStream == "" ||
			c.NATS.DeadLetterSubject == "" || c.NATS.Durable == "" {
			return fmt.Errorf("nats stream, subject and durable names are required")
		}
	}

	if c.Provider.AccessToken == "" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider.access_token or provider.api_key is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be > 0")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider.requests_per_second must be > 0")
	}
	if c.Provider.MaxPages <= 0 {
		return fmt.Errorf("provider.max_pages must be > 0")
	}

	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}

	if c.Gateway.MaxSpanDays <= 0 {
		return fmt.Errorf("gateway.max_span_days must be > 0")
	}
	if c.Gateway.MaxPageSize <= 0 {
		return fmt.Errorf("gateway.max_page_size must be > 0")
	}
	if c.Gateway.DefaultPageSize <= 0 || c.Gateway.DefaultPageSize > c.Gateway.MaxPageSize {
		return fmt.Errorf("gateway.default_page_size must be between 1 and gateway.max_page_size")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler.interval must be > 0")
		}
		if c.Scheduler.WindowDays < 0 {
			return fmt.Errorf("scheduler.window_days must be >= 0")
		}
		if c.Scheduler.WindowDays+1 > c.Gateway.MaxSpanDays {
			return fmt.Errorf("scheduler.window_days %d exceeds gateway.max_span_days %d", c.Scheduler.WindowDays, c.Gateway.MaxSpanDays)
		}
	}

	return nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":                  8080,
		"server.host":                  "0.0.0.0",
		"server.max_body_size_mb":      1,
		"server.mode":                  "release",
		"database.dsn":                 "",
		"database.max_open_conns":      25,
		"database.max_idle_conns":      25,
		"database.auto_migrate":        true,
		"store.backend":                "postgres",
		"bus.backend":                  "postgres",
		"bus.visibility_timeout":       "5m",
		"bus.max_redeliveries":         3,
		"bus.poll_interval":            "1s",
		"bus.publish_timeout":          "5s",
		"nats.url":                     "nats://127.0.0.1:4222",
		"nats.embedded":                false,
		"nats.host":                    "127.0.0.1",
		"nats.port":                    4222,
		"nats.store_dir":               "./data/nats",
		"nats.stream":                  "POPULATION",
		"nats.subject":                 "population.requests",
		"nats.dead_letter_stream":      "POPULATION_DLQ",
		"nats.dead_letter_subject":     "population.dead",
		"nats.durable":                 "population-workers",
		"provider.base_url":            "https://api.themoviedb.org/3",
		"provider.timeout":             "10s",
		"provider.requests_per_second": 4.0,
		"provider.burst":               4,
		"provider.max_pages":           5,
		"worker.count":                 4,
		"gateway.max_span_days":        366,
		"gateway.default_page_size":    20,
		"gateway.max_page_size":        100,
		"scheduler.enabled":            true,
		"scheduler.interval":           "24h",
		"scheduler.window_days":        1,
		"scheduler.run_on_start":       false,
		"supervisor.failure_threshold": 5.0,
		"supervisor.failure_backoff":   "15s",
		"supervisor.shutdown_timeout":  "10s",
	}
}

// Load parses config from defaults, the optional YAML file and PEANUT_*
// environment variables (PEANUT_BUS__BACKEND sets bus.backend), then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
