package config

import (
	"fmt"
	"os"
	"time"

	"deltayield/internal/cache"
	"deltayield/internal/logger"
	"deltayield/internal/market"
	"deltayield/internal/market/binance"
	"deltayield/internal/market/synthetic"
	"deltayield/internal/predictor"
	"deltayield/internal/scheduler"
	"deltayield/internal/strategy/backtest"
	"deltayield/internal/strategy/simulator"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig             `yaml:"app"`
	Server     ServerConfig          `yaml:"server"`
	Logging    logger.Config         `yaml:"logging"`
	Redis      cache.RedisConfig     `yaml:"redis"`
	Cache      cache.Config          `yaml:"cache"`
	Data       DataConfig            `yaml:"data"`
	Predictor  predictor.Config      `yaml:"predictor"`
	Simulator  simulator.Config      `yaml:"simulator"`
	Backtest   backtest.Config       `yaml:"backtest"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
	Schedules  []scheduler.JobConfig `yaml:"schedules"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	Mode            string        `yaml:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
	// RunTimeout bounds a single backtest requested over HTTP
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DataConfig selects and tunes the market data sources
type DataConfig struct {
	market.Config `yaml:",inline"`

	Binance   binance.Config   `yaml:"binance"`
	Synthetic synthetic.Config `yaml:"synthetic"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// Default assembles the defaults owned by each package
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "dnyield",
			Version: "0.1.0",
			Env:     "development",
		},
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Mode:            "release",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxHeaderBytes:  1 << 20,
			RunTimeout:      2 * time.Minute,
		},
		Logging: logger.DefaultConfig,
		Redis:   cache.DefaultRedisConfig(),
		Cache:   cache.DefaultConfig(),
		Data: DataConfig{
			Config:    market.DefaultConfig(),
			Binance:   binance.DefaultConfig(),
			Synthetic: synthetic.DefaultConfig(),
		},
		Predictor: predictor.DefaultConfig(),
		Simulator: simulator.DefaultConfig(),
		Backtest:  backtest.DefaultConfig(),
		Monitoring: MonitoringConfig{
			PrometheusEnabled: true,
			PrometheusPath:    "/metrics",
		},
	}
}

// Load reads a YAML file over the defaults and applies DNY_ environment overrides.
// An empty filename yields defaults plus environment.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg, NewEnvManager("", "")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidate is Load followed by Validator.Validate
func LoadAndValidate(filename string) (*Config, error) {
	cfg, err := Load(filename)
	if err != nil {
		return nil, err
	}
	if err := NewValidator(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
