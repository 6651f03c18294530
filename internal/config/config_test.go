package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, s string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kscam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(s), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIToken, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 0.25, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 80, cfg.Camera.JPEGQuality)
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIToken, "")
	path := writeConfig(t, `
api:
  base_url: https://api.krishi.example
  token_file: /run/krishi/token
  timeout: 10s
camera:
  backend: gstreamer
  device: /dev/video2
  width: 1280
  height: 720
detection:
  confidence_threshold: 0.4
  monitor_interval: 2s
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.krishi.example", cfg.API.BaseURL)
	assert.Equal(t, "/run/krishi/token", cfg.API.TokenFile)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "gstreamer", cfg.Camera.Backend)
	assert.Equal(t, "/dev/video2", cfg.Camera.Device)
	assert.Equal(t, 1280, cfg.Camera.Width)
	assert.Equal(t, 80, cfg.Camera.JPEGQuality, "unset fields keep defaults")
	assert.Equal(t, 0.4, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 2*time.Second, cfg.Detection.MonitorInterval)
	assert.Equal(t, 5, cfg.Detection.Smoothing)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "http://10.0.0.5:8000")
	t.Setenv(EnvAPIToken, "from-env")
	cfg, err := Load(writeConfig(t, "api:\n  base_url: http://ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8000", cfg.API.BaseURL)
	assert.Equal(t, "from-env", cfg.API.Token)
}

func TestLoadEnvTokenOverridesTokenFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIToken, "from-env")
	cfg, err := Load(writeConfig(t, "api:\n  token_file: /run/krishi/token\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.Token)
	assert.Empty(t, cfg.API.TokenFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIToken, "")
	path := writeConfig(t, "camera:\n  backend: webrtc\n")

	_, err := Load(path)
	require.Error(t, err)

	cfg, err := Load(path, func(c *Config) { c.Camera.Backend = "gstreamer" })
	require.NoError(t, err)
	assert.Equal(t, "gstreamer", cfg.Camera.Backend)

	_, err = Load("", func(c *Config) { c.Camera.Backend = "webrtc" })
	assert.Error(t, err, "overrides are validated")
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIToken, "")
	cases := map[string]string{
		"backend":     "camera:\n  backend: webrtc\n",
		"quality":     "camera:\n  jpeg_quality: 101\n",
		"threshold":   "detection:\n  confidence_threshold: 0.95\n",
		"interval":    "detection:\n  monitor_interval: -1s\n",
		"level":       "log:\n  level: verbose\n",
		"token":       "api:\n  token: a\n  token_file: b\n",
		"bad yaml":    "camera: [",
		"bad timeout": "api:\n  timeout: soon\n",
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, s))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
