// Package config loads service configuration from file and environment
// with sane defaults for a single-instance deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Abuse     AbuseConfig     `mapstructure:"abuse"`
	Security  SecurityConfig  `mapstructure:"security"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RedisConfig selects the shared counter backend. Disabled means the
// limiter runs on the in-process store only.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	// RulesFile optionally replaces the built-in default rule set.
	RulesFile string `mapstructure:"rules_file"`
	// WatchRules hot-reloads the rules file on change.
	WatchRules bool `mapstructure:"watch_rules"`
}

type AbuseConfig struct {
	AutoBlockThreshold int           `mapstructure:"auto_block_threshold"`
	AutoBlockDuration  time.Duration `mapstructure:"auto_block_duration"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

type SecurityConfig struct {
	// EventsFile optionally mirrors security events to a JSON-lines file.
	EventsFile string `mapstructure:"events_file"`
}

type QueueConfig struct {
	// Path is the badger directory for the durable offline queue.
	Path string `mapstructure:"path"`
	// ReplayOnStart runs one replay pass after rehydration.
	ReplayOnStart bool `mapstructure:"replay_on_start"`
}

type DeliveryConfig struct {
	BaseTimeout time.Duration `mapstructure:"base_timeout"`
	// Targets maps queued action kinds to their delivery URLs, used
	// when the offline queue replays.
	Targets map[string]string `mapstructure:"targets"`
}

// Load reads configuration from the given file (optional) and the
// CONVOPORT_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONVOPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("convoport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/convoport")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.watch_rules", false)

	v.SetDefault("abuse.auto_block_threshold", 10)
	v.SetDefault("abuse.auto_block_duration", time.Hour)
	v.SetDefault("abuse.sweep_interval", time.Hour)

	v.SetDefault("queue.path", "data/offline-queue")
	v.SetDefault("queue.replay_on_start", true)

	v.SetDefault("delivery.base_timeout", 10*time.Second)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but no addr configured")
	}
	if c.Abuse.AutoBlockThreshold <= 0 {
		return fmt.Errorf("abuse auto_block_threshold must be positive")
	}
	if c.Queue.Path == "" {
		return fmt.Errorf("queue path must not be empty")
	}
	return nil
}
