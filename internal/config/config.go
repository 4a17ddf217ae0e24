package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Redis      RedisConfig    `yaml:"redis"`
	Postgres   PostgresConfig `yaml:"postgres"`
	Evaluator  EvalConfig     `yaml:"evaluator"`
	Rules      RulesConfig    `yaml:"rules"`
	Status     StatusConfig   `yaml:"status"`
	Samples    SampleConfig   `yaml:"samples"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type EvalConfig struct {
	Tick           time.Duration `yaml:"tick"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	DeadmanHorizon time.Duration `yaml:"deadman_horizon"`
}

// RulesConfig carries every detection threshold and window. All values
// are tunable without code changes.
type RulesConfig struct {
	CPUThreshold  float64 `yaml:"cpu_threshold"`
	MemThreshold  float64 `yaml:"mem_threshold"`
	DiskThreshold float64 `yaml:"disk_threshold"`

	CPUMinOccurrences  int `yaml:"cpu_min_occurrences"`
	MemMinOccurrences  int `yaml:"mem_min_occurrences"`
	DiskMinOccurrences int `yaml:"disk_min_occurrences"`

	CPUWindow     time.Duration `yaml:"cpu_window"`
	MemWindow     time.Duration `yaml:"mem_window"`
	DiskWindow    time.Duration `yaml:"disk_window"`
	DeadmanWindow time.Duration `yaml:"deadman_window"`

	ResolveWindow        time.Duration `yaml:"resolve_window"`
	DeadmanResolveWindow time.Duration `yaml:"deadman_resolve_window"`
}

type StatusConfig struct {
	Staleness time.Duration `yaml:"staleness"`
}

type SampleConfig struct {
	Retention   time.Duration `yaml:"retention"`
	LivenessTTL time.Duration `yaml:"liveness_ttl"`
}

// Load reads the YAML config file, applies defaults, env overrides for
// store credentials, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "redis:6379"
	}
	if c.Evaluator.Tick == 0 {
		c.Evaluator.Tick = time.Minute
	}
	if c.Evaluator.StoreTimeout == 0 {
		c.Evaluator.StoreTimeout = 10 * time.Second
	}
	if c.Evaluator.DeadmanHorizon == 0 {
		c.Evaluator.DeadmanHorizon = 24 * time.Hour
	}

	if c.Rules.CPUThreshold == 0 {
		c.Rules.CPUThreshold = 80
	}
	if c.Rules.MemThreshold == 0 {
		c.Rules.MemThreshold = 90
	}
	if c.Rules.DiskThreshold == 0 {
		c.Rules.DiskThreshold = 90
	}
	if c.Rules.CPUMinOccurrences == 0 {
		c.Rules.CPUMinOccurrences = 6
	}
	if c.Rules.MemMinOccurrences == 0 {
		c.Rules.MemMinOccurrences = 2
	}
	if c.Rules.DiskMinOccurrences == 0 {
		c.Rules.DiskMinOccurrences = 2
	}
	if c.Rules.CPUWindow == 0 {
		c.Rules.CPUWindow = 5 * time.Minute
	}
	if c.Rules.MemWindow == 0 {
		c.Rules.MemWindow = 5 * time.Minute
	}
	if c.Rules.DiskWindow == 0 {
		c.Rules.DiskWindow = 15 * time.Minute
	}
	if c.Rules.DeadmanWindow == 0 {
		c.Rules.DeadmanWindow = 5 * time.Minute
	}
	if c.Rules.ResolveWindow == 0 {
		c.Rules.ResolveWindow = 6 * time.Minute
	}
	if c.Rules.DeadmanResolveWindow == 0 {
		c.Rules.DeadmanResolveWindow = time.Minute
	}

	if c.Status.Staleness == 0 {
		c.Status.Staleness = 5 * time.Minute
	}
	if c.Samples.Retention == 0 {
		c.Samples.Retention = 72 * time.Hour
	}
	if c.Samples.LivenessTTL == 0 {
		c.Samples.LivenessTTL = 5 * time.Minute
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

func (c *Config) validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	// The lookback must exceed the tick so a missed tick re-derives the
	// same conclusions from the stores.
	for name, w := range map[string]time.Duration{
		"rules.cpu_window":     c.Rules.CPUWindow,
		"rules.mem_window":     c.Rules.MemWindow,
		"rules.disk_window":    c.Rules.DiskWindow,
		"rules.deadman_window": c.Rules.DeadmanWindow,
	} {
		if c.Evaluator.Tick >= w {
			return fmt.Errorf("evaluator.tick must be shorter than %s", name)
		}
	}
	for name, pct := range map[string]float64{
		"rules.cpu_threshold":  c.Rules.CPUThreshold,
		"rules.mem_threshold":  c.Rules.MemThreshold,
		"rules.disk_threshold": c.Rules.DiskThreshold,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s must be within [0, 100], got %v", name, pct)
		}
	}
	return nil
}
