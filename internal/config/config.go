// Package config loads the kscam configuration file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// Environment variables overriding the configuration file.
const (
	EnvAPIURL   = "KRISHI_API_URL"
	EnvAPIToken = "KRISHI_API_TOKEN"
)

// APIConfig describes how to reach the inference endpoint.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`      // Bearer token. Prefer token_file.
	TokenFile string        `yaml:"token_file"` // File holding the bearer token, reloaded when it changes.
	Timeout   time.Duration `yaml:"timeout"`    // e.g. "30s"
}

// CameraConfig selects the platform backend and stream parameters.
type CameraConfig struct {
	Backend     string `yaml:"backend"` // ffmpeg, gstreamer, imagesnap or opencv
	Device      string `yaml:"device"`  // Device ID. Empty means the first device listed.
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// DetectionConfig holds detection parameters.
type DetectionConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MonitorInterval     time.Duration `yaml:"monitor_interval"`
	Smoothing           int           `yaml:"smoothing"` // Moving average window for watch.
}

// ServerConfig is the local HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config aggregates all configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Camera: CameraConfig{
			Backend:     DefaultBackend(),
			Width:       640,
			Height:      480,
			JPEGQuality: 80,
		},
		Detection: DetectionConfig{
			ConfidenceThreshold: krishisahay.DefaultConfidenceThreshold,
			MonitorInterval:     5 * time.Second,
			Smoothing:           5,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides,
// then overrides in order, and validates the result. An empty path skips the
// file.
//
// KRISHI_API_TOKEN takes precedence over both api.token and api.token_file.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.API.Token = v
		cfg.API.TokenFile = ""
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Unlike requests, an out of range
// confidence threshold is an error.
func (c *Config) Validate() error {
	switch c.Camera.Backend {
	case "ffmpeg", "gstreamer", "imagesnap", "opencv":
	default:
		return fmt.Errorf("camera.backend must be ffmpeg, gstreamer, imagesnap or opencv, got %q", c.Camera.Backend)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be >= 0")
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}
	th := c.Detection.ConfidenceThreshold
	if th < krishisahay.MinConfidenceThreshold || th > krishisahay.MaxConfidenceThreshold {
		return fmt.Errorf("detection.confidence_threshold must be between %.1f and %.1f, got %.2f", krishisahay.MinConfidenceThreshold, krishisahay.MaxConfidenceThreshold, th)
	}
	if c.Detection.MonitorInterval <= 0 {
		return fmt.Errorf("detection.monitor_interval must be > 0")
	}
	if c.Detection.Smoothing <= 0 {
		return fmt.Errorf("detection.smoothing must be > 0")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.Token != "" && c.API.TokenFile != "" {
		return fmt.Errorf("api.token and api.token_file are mutually exclusive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// DefaultBackend returns the camera backend for the current OS.
func DefaultBackend() string {
	if runtime.GOOS == "darwin" {
		return "imagesnap"
	}
	return "ffmpeg"
}
