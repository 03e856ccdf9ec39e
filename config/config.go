package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes one camera and the static parameters applied to it
// right after connect, before acquisition starts.
type CameraConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // mock | screen | mvs

	// Device selection for the vendor SDK source.
	Index  int    `yaml:"index"`
	Serial string `yaml:"serial"`

	// Static acquisition parameters. Zero means "leave the device default".
	Exposure   float64 `yaml:"exposure"`
	Gain       float64 `yaml:"gain"`
	Gamma      float64 `yaml:"gamma"`
	Contrast   float64 `yaml:"contrast"`
	Saturation float64 `yaml:"saturation"`

	// Frame pull timeout in milliseconds for the acquisition loop.
	PullTimeoutMS int `yaml:"pull_timeout_ms"`

	// Screen source only: capture sub-rectangle, zero for full screen.
	ScreenX int `yaml:"screen_x"`
	ScreenY int `yaml:"screen_y"`
	ScreenW int `yaml:"screen_w"`
	ScreenH int `yaml:"screen_h"`
}

// ReportConfig describes the line-controller result channel.
type ReportConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	RetrySeconds int    `yaml:"retry_seconds"`
}

// Config holds runtime configuration. Fields may be loaded from a YAML file
// and overridden by command-line flags.
type Config struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	TemplateDir     string `yaml:"template_dir"`
	CurrentTemplate string `yaml:"current_template"`
	DebugImageDir   string `yaml:"debug_image_dir"` // empty disables decode attempt dumps

	CCD1 CameraConfig `yaml:"ccd1"`
	CCD2 CameraConfig `yaml:"ccd2"`

	Report ReportConfig `yaml:"report"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:           false,
		LogLevel:        "info",
		TemplateDir:     "templates",
		CurrentTemplate: "",
		DebugImageDir:   "",
		CCD1: CameraConfig{
			ID:            "ccd1",
			Type:          "mock",
			PullTimeoutMS: 100,
		},
		CCD2: CameraConfig{
			ID:            "ccd2",
			Type:          "mock",
			PullTimeoutMS: 100,
		},
		Report: ReportConfig{
			Enabled:      false,
			Addr:         "127.0.0.1:9100",
			RetrySeconds: 5,
		},
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TemplateDir == "" {
		c.TemplateDir = "templates"
	}
	for _, cam := range []*CameraConfig{&c.CCD1, &c.CCD2} {
		if cam.Type == "" {
			cam.Type = "mock"
		}
		if cam.PullTimeoutMS <= 0 {
			cam.PullTimeoutMS = 100
		}
		if cam.Index < 0 {
			cam.Index = 0
		}
	}
	if c.CCD1.ID == "" {
		c.CCD1.ID = "ccd1"
	}
	if c.CCD2.ID == "" {
		c.CCD2.ID = "ccd2"
	}
	if c.Report.RetrySeconds <= 0 {
		c.Report.RetrySeconds = 5
	}
	if c.Report.Enabled && c.Report.Addr == "" {
		return fmt.Errorf("report enabled but addr empty")
	}
	return nil
}

// Load attempts to read configuration from the given YAML file path. If the
// file does not exist it returns DefaultConfig(). On parse error it returns
// defaults with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to the given path in YAML format.
func (c *Config) Save(path string) error {
	_ = c.Validate()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
