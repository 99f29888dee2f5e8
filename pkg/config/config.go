package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"
)

// Duration is a time.Duration written as a string such as "30s" or "5m".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server     Server     `json:"server"`
	Workers    Workers    `json:"workers"`
	Evaluation Evaluation `json:"evaluation"`
	Delivery   Delivery   `json:"delivery"`
	Telemetry  Telemetry  `json:"telemetry"`
	Logging    Logging    `json:"logging"`
}

type Server struct {
	Address         string   `json:"address"`
	Route           string   `json:"route"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type Workers struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

type Evaluation struct {
	Timeout Duration `json:"timeout"`
	// ReportErrors posts a rejected check result when an asynchronous evaluation fails
	// before producing a verdict.
	ReportErrors bool `json:"report_errors"`
	Debug        bool `json:"debug"`
}

type Delivery struct {
	MaxAttempts     int      `json:"max_attempts"`
	RetryWaitMin    Duration `json:"retry_wait_min"`
	RetryWaitMax    Duration `json:"retry_wait_max"`
	MaxMessageBytes int      `json:"max_message_bytes"`
	RequestTimeout  Duration `json:"request_timeout"`
}

type Telemetry struct {
	Enabled bool     `json:"enabled"`
	Timeout Duration `json:"timeout"`
}

type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Address:         ":8080",
			Route:           "/api/ArtifactPolicyCheck",
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Workers: Workers{
			Count:     8,
			QueueSize: 64,
		},
		Evaluation: Evaluation{
			Timeout: Duration(5 * time.Minute),
		},
		Delivery: Delivery{
			MaxAttempts:     5,
			RetryWaitMin:    Duration(time.Second),
			RetryWaitMax:    Duration(30 * time.Second),
			MaxMessageBytes: 64 * 1024,
			RequestTimeout:  Duration(30 * time.Second),
		},
		Telemetry: Telemetry{
			Enabled: true,
			Timeout: Duration(10 * time.Second),
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var validationErrors []error
	if c.Server.Address == "" {
		validationErrors = append(validationErrors, fmt.Errorf("server.address must be set"))
	}
	if !strings.HasPrefix(c.Server.Route, "/") {
		validationErrors = append(validationErrors, fmt.Errorf("server.route must start with '/': %q", c.Server.Route))
	}
	if c.Workers.Count < 1 {
		validationErrors = append(validationErrors, fmt.Errorf("workers.count must be positive: %d", c.Workers.Count))
	}
	if c.Workers.QueueSize < 1 {
		validationErrors = append(validationErrors, fmt.Errorf("workers.queue_size must be positive: %d", c.Workers.QueueSize))
	}
	if c.Delivery.MaxAttempts < 1 {
		validationErrors = append(validationErrors, fmt.Errorf("delivery.max_attempts must be positive: %d", c.Delivery.MaxAttempts))
	}
	if c.Delivery.RetryWaitMin > c.Delivery.RetryWaitMax {
		validationErrors = append(validationErrors, fmt.Errorf("delivery.retry_wait_min %s exceeds retry_wait_max %s",
			c.Delivery.RetryWaitMin.Std(), c.Delivery.RetryWaitMax.Std()))
	}
	if c.Delivery.MaxMessageBytes < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("delivery.max_message_bytes must not be negative: %d", c.Delivery.MaxMessageBytes))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		validationErrors = append(validationErrors, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		validationErrors = append(validationErrors, fmt.Errorf("logging.format must be text or json: %q", c.Logging.Format))
	}

	if len(validationErrors) > 0 {
		return errors.Join(validationErrors...)
	}
	return nil
}

// NewLogger builds the process logger described by the logging section.
func (l Logging) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
