package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"yumimaint/internal/reactor"
)

const FileName = "yumi_maintenance.yml"

// Config models yumi_maintenance.yml. Relative paths are resolved against the
// workspace directory by Resolve.
type Config struct {
	Paths struct {
		Database string `yaml:"database"`
		LogFile  string `yaml:"log_file"`
		Catalog  string `yaml:"catalog"`
	} `yaml:"paths"`
	Prompt struct {
		Title         string `yaml:"title"`
		PostponeLabel string `yaml:"postpone_label"`
		ConfirmLabel  string `yaml:"confirm_label"`
	} `yaml:"prompt"`
	Schedule struct {
		DueCheck     string `yaml:"due_check"`
		CheckOnReady bool   `yaml:"check_on_ready"`
		TimeFormat   string `yaml:"time_format"`
	} `yaml:"schedule"`
	API    APIConfig    `yaml:"api"`
	Logger LoggerConfig `yaml:"logger"`
	Marker MarkerConfig `yaml:"marker"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret"`
}

type LoggerConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// MarkerConfig drives the printer.cfg marker toggler.
type MarkerConfig struct {
	AuxConfig     string `yaml:"aux_config"`
	PrinterConfig string `yaml:"printer_config"`
	Flag          string `yaml:"flag"`
	Marker        string `yaml:"marker"`
	InsertAfter   string `yaml:"insert_after"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates the config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ym config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
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

// FromYAML parses and validates config from raw YAML bytes. Keys missing from data
// keep their default values.
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Paths.Database == "" {
		return fmt.Errorf("config.paths.database is required")
	}
	if c.Paths.LogFile == "" {
		return fmt.Errorf("config.paths.log_file is required")
	}
	if c.Prompt.Title == "" {
		return fmt.Errorf("config.prompt.title is required")
	}
	if c.Prompt.PostponeLabel == "" || c.Prompt.ConfirmLabel == "" {
		return fmt.Errorf("config.prompt button labels are required")
	}
	if c.Prompt.PostponeLabel == c.Prompt.ConfirmLabel {
		return fmt.Errorf("config.prompt postpone and confirm labels must differ")
	}
	if c.Schedule.DueCheck != "" {
		if err := reactor.ValidateSpec(c.Schedule.DueCheck); err != nil {
			return fmt.Errorf("config.schedule.due_check %q: %w", c.Schedule.DueCheck, err)
		}
	}
	if c.Logger.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
			return fmt.Errorf("config.logger.level: %w", err)
		}
	}
	switch c.Logger.Encoding {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.logger.encoding must be console or json")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("config.api.addr is required when the api is enabled")
	}
	return nil
}

// Resolve makes every relative path absolute against workspace.
func (c *Config) Resolve(workspace string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workspace, p)
	}
	c.Paths.Database = abs(c.Paths.Database)
	c.Paths.LogFile = abs(c.Paths.LogFile)
	c.Paths.Catalog = abs(c.Paths.Catalog)
	c.Marker.AuxConfig = abs(c.Marker.AuxConfig)
	c.Marker.PrinterConfig = abs(c.Marker.PrinterConfig)
}

// Encode renders the config as YAML.
func (c *Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `paths:
  database: database/yumi_maintenance.db
  log_file: logs/yumi_maintenance.log
  # empty uses the built-in catalog
  catalog: ""

prompt:
  title: Maintenance Required
  postpone_label: Not Now
  confirm_label: Confirm

schedule:
  # robfig/cron spec; empty disables the periodic due check
  due_check: "@every 1h"
  check_on_ready: true
  time_format: "2006-01-02 15:04:05"

api:
  enabled: false
  addr: 127.0.0.1:7130
  base_path: /v0
  jwt_secret: ""

logger:
  level: info
  encoding: console
  output_paths: [stderr]

marker:
  aux_config: config/Yumi_Maintenance.cfg
  printer_config: config/printer.cfg
  flag: enable_maintenance
  marker: "[yumi_maintenance]"
  insert_after: "filename: ~/printer_data/config/variables.cfg"
`
