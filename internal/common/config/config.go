// Package config provides configuration management for ralphd.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for ralphd.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Automation AutomationConfig `mapstructure:"automation"`
	Events     EventsConfig     `mapstructure:"events"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// DatabaseConfig holds the embedded database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig holds run-queue admission control.
type QueueConfig struct {
	MaxConcurrent        int `mapstructure:"maxConcurrent"`
	ShutdownGraceSeconds int `mapstructure:"shutdownGraceSeconds"`
}

// ShutdownGraceDuration returns the shutdown grace period as a Duration.
func (q QueueConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(q.ShutdownGraceSeconds) * time.Second
}

// LoopConfig holds defaults for the iteration loop.
type LoopConfig struct {
	MaxIterations        int    `mapstructure:"maxIterations"`
	InterIterationDelay  int    `mapstructure:"interIterationDelaySeconds"`
	ProgressFileTemplate string `mapstructure:"progressFileTemplate"`
	FailureContextCap    int    `mapstructure:"failureContextCap"`
	AgentTimeoutSeconds  int    `mapstructure:"agentTimeoutSeconds"`
	GitCheckpoint        bool   `mapstructure:"gitCheckpoint"`
}

// AutomationConfig holds the scheduler tick interval.
type AutomationConfig struct {
	TickIntervalSeconds int `mapstructure:"tickIntervalSeconds"`
}

// EventsConfig holds live-broadcast and optional NATS backend settings.
type EventsConfig struct {
	SubscriberQueueDepth int    `mapstructure:"subscriberQueueDepth"`
	NATSUrl              string `mapstructure:"natsUrl"`
	JournalPageSize      int    `mapstructure:"journalPageSize"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// InterIterationDelayDuration returns the configured delay as a time.Duration.
func (l *LoopConfig) InterIterationDelayDuration() time.Duration {
	return time.Duration(l.InterIterationDelay) * time.Second
}

// AgentTimeoutDuration returns the configured agent timeout as a time.Duration.
func (l *LoopConfig) AgentTimeoutDuration() time.Duration {
	return time.Duration(l.AgentTimeoutSeconds) * time.Second
}

// TickInterval returns the scheduler tick interval as a time.Duration.
func (a *AutomationConfig) TickInterval() time.Duration {
	return time.Duration(a.TickIntervalSeconds) * time.Second
}

func detectDefaultLogFormat() string {
	if env := os.Getenv("RALPH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 4242)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.path", "./ralph.db")

	v.SetDefault("queue.maxConcurrent", 2)
	v.SetDefault("queue.shutdownGraceSeconds", 30)

	v.SetDefault("loop.maxIterations", 10)
	v.SetDefault("loop.interIterationDelaySeconds", 0)
	v.SetDefault("loop.progressFileTemplate", "ralph-progress-%s.md")
	v.SetDefault("loop.failureContextCap", 4000)
	v.SetDefault("loop.agentTimeoutSeconds", 300)
	v.SetDefault("loop.gitCheckpoint", true)

	v.SetDefault("automation.tickIntervalSeconds", 30)

	v.SetDefault("events.subscriberQueueDepth", 64)
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.journalPageSize", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults, using the current directory and /etc/ralphd/ as config-file
// search paths.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given directory (if non-empty)
// in addition to the default search paths.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RALPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ralphd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Queue.MaxConcurrent <= 0 {
		errs = append(errs, "queue.maxConcurrent must be positive")
	}
	if cfg.Queue.ShutdownGraceSeconds <= 0 {
		errs = append(errs, "queue.shutdownGraceSeconds must be positive")
	}
	if cfg.Loop.MaxIterations <= 0 {
		errs = append(errs, "loop.maxIterations must be positive")
	}
	if cfg.Loop.FailureContextCap <= 0 {
		errs = append(errs, "loop.failureContextCap must be positive")
	}
	if cfg.Events.SubscriberQueueDepth <= 0 {
		errs = append(errs, "events.subscriberQueueDepth must be positive")
	}
	if cfg.Automation.TickIntervalSeconds <= 0 {
		errs = append(errs, "automation.tickIntervalSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
