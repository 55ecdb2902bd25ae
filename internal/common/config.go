package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Runs        RunsConfig      `toml:"runs"`
	Webhook     WebhookConfig   `toml:"webhook"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - lease duration before redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be leased before dead-letter
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	SweepSchedule     string `toml:"sweep_schedule"`     // Cron schedule for the queue maintenance sweep
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RunsConfig contains configuration for run coordination
type RunsConfig struct {
	WaitTimeout   string `toml:"wait_timeout"`    // Max time a caller blocks on a synchronous response, e.g. "30s"
	UploadBaseURL string `toml:"upload_base_url"` // Base URL for execution log upload targets
	FrontendURL   string `toml:"frontend_url"`    // Base URL for human-facing run links
}

// WebhookConfig contains configuration for outbound cascade callbacks
type WebhookConfig struct {
	CallbackBaseURL string `toml:"callback_base_url"` // Base URL resumed parent runs listen on
	RequestTimeout  string `toml:"request_timeout"`   // HTTP timeout for callback delivery
	RateLimit       string `toml:"rate_limit"`        // Min interval between callback deliveries, e.g. "100ms"
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	// Whitelist of event types to broadcast via WebSocket. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Per-event-type minimum broadcast interval, e.g. {"run_progress" = "1s"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig returns the built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "relay_runs",
			SweepSchedule:     "0 * * * * *", // Every minute (cron format with seconds)
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Runs: RunsConfig{
			WaitTimeout:   "30s",
			UploadBaseURL: "http://localhost:8080/uploads",
			FrontendURL:   "http://localhost:8080",
		},
		Webhook: WebhookConfig{
			CallbackBaseURL: "http://localhost:8080",
			RequestTimeout:  "10s",
			RateLimit:       "100ms",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"run_progress": "1s", // Max 1 progress broadcast per second per connection
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RELAY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("RELAY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RELAY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if visibilityTimeout := os.Getenv("RELAY_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("RELAY_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("RELAY_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	if badgerPath := os.Getenv("RELAY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if callbackURL := os.Getenv("RELAY_WEBHOOK_CALLBACK_BASE_URL"); callbackURL != "" {
		config.Webhook.CallbackBaseURL = callbackURL
	}

	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("RELAY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// VisibilityTimeout parses the queue visibility timeout, falling back to 5m
func (c *QueueConfig) GetVisibilityTimeout() time.Duration {
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// GetWaitTimeout parses the synchronous wait timeout, falling back to 30s
func (c *RunsConfig) GetWaitTimeout() time.Duration {
	d, err := time.ParseDuration(c.WaitTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ValidateSweepSchedule validates a cron schedule expression
func ValidateSweepSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
