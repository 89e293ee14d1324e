package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "lettertrack.yml"

// Config models lettertrack.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Database struct {
		BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
	Blob     BlobConfig `yaml:"blob"`
	Workflow struct {
		TrackingPrefix string `yaml:"tracking_prefix"`
		MaxTodoItems   int    `yaml:"max_todo_items"`
	} `yaml:"workflow"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// BlobConfig selects where uploaded letters are stored.
type BlobConfig struct {
	Driver        string `yaml:"driver"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Prefix        string `yaml:"prefix"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.database.busy_timeout_ms must not be negative")
	}
	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config.blob.bucket is required for driver s3")
		}
		if c.Blob.Region == "" {
			return fmt.Errorf("config.blob.region is required for driver s3")
		}
	default:
		return fmt.Errorf("config.blob.driver must be memory or s3, got %q", c.Blob.Driver)
	}
	if strings.TrimSpace(c.Workflow.TrackingPrefix) == "" {
		return fmt.Errorf("config.workflow.tracking_prefix is required")
	}
	if c.Workflow.MaxTodoItems <= 0 {
		return fmt.Errorf("config.workflow.max_todo_items must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
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

// Load reads and validates config from workspace. A missing file yields the defaults.
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

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic("config: default template: " + err.Error())
	}
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
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
  allow_legacy_actor_header: false

database:
  busy_timeout_ms: 5000

blob:
  driver: memory
  bucket: ""
  region: ""
  prefix: reports
  endpoint: ""
  public_base_url: ""

workflow:
  tracking_prefix: TRK
  max_todo_items: 50

log:
  level: info
  development: false
`
