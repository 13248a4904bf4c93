// Package config holds the environment-backed runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config is populated from the environment; CLI flags may override fields
// afterwards.
type Config struct {
	DataDir         string        `env:"SARAH_DATA_DIR" envDefault:"data/chats"`
	LogLevel        string        `env:"SARAH_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"SARAH_LOG_FORMAT" envDefault:"console"`
	MaxConcurrent   int64         `env:"SARAH_MAX_CONCURRENT" envDefault:"10"`
	RecentWindow    int           `env:"SARAH_RECENT_WINDOW" envDefault:"8"`
	SessionGap      time.Duration `env:"SARAH_SESSION_GAP" envDefault:"30m"`
	UpstreamTimeout time.Duration `env:"SARAH_UPSTREAM_TIMEOUT" envDefault:"30s"`
	TopicsFile      string        `env:"SARAH_TOPICS_FILE"`
	ShutdownGrace   time.Duration `env:"SARAH_SHUTDOWN_GRACE" envDefault:"30s"`
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

type topicsFile struct {
	Topics []string `yaml:"topics"`
}

// Topics returns the topic vocabulary from the configured YAML file, or nil
// to select the built-in default.
func (c *Config) Topics() ([]string, error) {
	if c.TopicsFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.TopicsFile)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}
	var tf topicsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}
	if len(tf.Topics) == 0 {
		return nil, fmt.Errorf("topics file %s lists no topics", c.TopicsFile)
	}
	return tf.Topics, nil
}
