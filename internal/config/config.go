package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"printflow/internal/logging"
	"printflow/internal/storage"
)

const FileName = "printflow.yml"

// Config models printflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// JWTSecret may be left empty and supplied through PRINTFLOW_JWT_SECRET.
		JWTSecret            string `yaml:"jwt_secret"`
		AllowUserIDHeader    bool   `yaml:"allow_user_id_header"`
		DevAuth              bool   `yaml:"dev_auth"`
		MaxUploadBytes       int64  `yaml:"max_upload_bytes"`
		ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
	} `yaml:"server"`
	Storage struct {
		Driver string              `yaml:"driver"`
		Dir    string              `yaml:"dir"`
		Minio  storage.MinioConfig `yaml:"minio"`
	} `yaml:"storage"`
	Notifications struct {
		Log      bool            `yaml:"log"`
		Queue    int             `yaml:"queue"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Reminders struct {
		Enabled    bool   `yaml:"enabled"`
		Schedule   string `yaml:"schedule"`
		StaleAfter string `yaml:"stale_after"`
	} `yaml:"reminders"`
	Logging   logging.Config `yaml:"logging"`
	Bootstrap struct {
		Admin struct {
			Name  string `yaml:"name"`
			Email string `yaml:"email"`
		} `yaml:"admin"`
	} `yaml:"bootstrap"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// MaxAttempts bounds deliveries per notification; zero means 3.
	MaxAttempts int   `yaml:"max_attempts"`
	Enabled     *bool `yaml:"enabled"`
}

func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// StaleAfterDuration parses reminders.stale_after; zero means remind on every run.
func (c *Config) StaleAfterDuration() time.Duration {
	d, err := time.ParseDuration(c.Reminders.StaleAfter)
	if err != nil {
		return 0
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	switch c.Storage.Driver {
	case "", "local":
	case "minio":
		m := c.Storage.Minio
		if m.Endpoint == "" || m.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio driver")
		}
	default:
		return fmt.Errorf("storage.driver must be local or minio, got %q", c.Storage.Driver)
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("notifications.webhooks[%d].timeout_seconds must be positive", i)
		}
		if hook.MaxAttempts < 0 {
			return fmt.Errorf("notifications.webhooks[%d].max_attempts must be positive", i)
		}
	}
	if c.Reminders.Enabled {
		if _, err := cron.ParseStandard(c.Reminders.Schedule); err != nil {
			return fmt.Errorf("reminders.schedule: %w", err)
		}
	}
	if c.Reminders.StaleAfter != "" {
		if _, err := time.ParseDuration(c.Reminders.StaleAfter); err != nil {
			return fmt.Errorf("reminders.stale_after: %w", err)
		}
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the workspace config, falling back to defaults when the file is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret: ""
  allow_user_id_header: false
  dev_auth: false
  max_upload_bytes: 26214400
  shutdown_grace_seconds: 5

storage:
  driver: local
  dir: .printflow/blobs

notifications:
  log: true
  queue: 256
  webhooks: []

reminders:
  enabled: false
  schedule: "0 8 * * 1-5"
  stale_after: 24h

logging:
  level: info
  output: stderr
  format: console

bootstrap:
  admin:
    name: admin
    email: admin@printflow.local
`
