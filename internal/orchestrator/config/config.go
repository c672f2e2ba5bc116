package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionConfig holds per-session caps applied when a create request
// leaves them unset
type SessionConfig struct {
	MaxIterations    int `yaml:"max_iterations"`
	MaxInterventions int `yaml:"max_interventions"`
}

// TimingConfig holds the orchestrator's background timing knobs
type TimingConfig struct {
	ResponseWindow       time.Duration `yaml:"response_window"`
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
	SessionMaxAge        time.Duration `yaml:"session_max_age"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	// Backend is "memory" or "sqlite"
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend
	Path string `yaml:"path"`
}

// GLMConfig configures the upstream chat completion API
type GLMConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds event streaming knobs
type StreamConfig struct {
	SubscriberBuffer    int `yaml:"subscriber_buffer"`
	ContextSectionLimit int `yaml:"context_section_limit"`
}

// Config is the full orchestrator configuration
type Config struct {
	Session SessionConfig `yaml:"session"`
	Timing  TimingConfig  `yaml:"timing"`
	Storage StorageConfig `yaml:"storage"`
	GLM     GLMConfig     `yaml:"glm"`
	Stream  StreamConfig  `yaml:"stream"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxIterations:    DefaultMaxIterations,
			MaxInterventions: DefaultMaxInterventions,
		},
		Timing: TimingConfig{
			ResponseWindow:       DefaultResponseWindow,
			TimeoutSweepInterval: DefaultTimeoutSweepInterval,
			SessionMaxAge:        DefaultSessionMaxAge,
			CleanupInterval:      DefaultCleanupInterval,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		GLM: GLMConfig{
			BaseURL:    "https://open.bigmodel.cn/api/paas/v4",
			Model:      "glm-4",
			Timeout:    DefaultAgentTimeout,
			MaxRetries: DefaultAgentMaxRetries,
		},
		Stream: StreamConfig{
			SubscriberBuffer:    DefaultSubscriberBuffer,
			ContextSectionLimit: DefaultContextSectionLimit,
		},
	}
}

// Load reads a YAML config file over the defaults and applies
// environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides credentials and endpoints from the environment so
// secrets stay out of config files
func (c *Config) applyEnv() {
	if v := os.Getenv("GLM_API_KEY"); v != "" {
		c.GLM.APIKey = v
	}
	if v := os.Getenv("GLM_BASE_URL"); v != "" {
		c.GLM.BaseURL = v
	}
	if v := os.Getenv("GLM_MODEL"); v != "" {
		c.GLM.Model = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage backend sqlite requires a path")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Session.MaxIterations <= 0 {
		return fmt.Errorf("session max_iterations must be positive, got %d", c.Session.MaxIterations)
	}
	if c.Session.MaxInterventions <= 0 {
		return fmt.Errorf("session max_interventions must be positive, got %d", c.Session.MaxInterventions)
	}
	if c.Timing.ResponseWindow <= 0 {
		return fmt.Errorf("timing response_window must be positive, got %s", c.Timing.ResponseWindow)
	}
	return nil
}
