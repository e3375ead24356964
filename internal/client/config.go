package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDaemonURL = "http://localhost:8090"
	DefaultRefresh   = 200 * time.Millisecond
)

// FileConfig is the client's TOML file. Unset keys keep their defaults.
type FileConfig struct {
	DaemonURL *string `toml:"daemon_url"`
	RefreshMS *int    `toml:"refresh_ms"`
	TimeoutMS *int    `toml:"timeout_ms"`
}

// Settings are the resolved client options.
type Settings struct {
	DaemonURL string
	Refresh   time.Duration
	Timeout   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		DaemonURL: DefaultDaemonURL,
		Refresh:   DefaultRefresh,
		Timeout:   2 * time.Second,
	}
}

// Apply overlays the keys present in the file.
func (f FileConfig) Apply(s Settings) Settings {
	if f.DaemonURL != nil && *f.DaemonURL != "" {
		s.DaemonURL = *f.DaemonURL
	}
	if f.RefreshMS != nil && *f.RefreshMS > 0 {
		s.Refresh = time.Duration(*f.RefreshMS) * time.Millisecond
	}
	if f.TimeoutMS != nil && *f.TimeoutMS > 0 {
		s.Timeout = time.Duration(*f.TimeoutMS) * time.Millisecond
	}
	return s
}

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), "loqa-sign", "client.toml")
}

// LoadConfig reads a TOML config from path. A missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// DefaultConfigTemplate is written by `loqa-sign config --init`.
func DefaultConfigTemplate() string {
	return fmt.Sprintf(`# loqa-sign client settings
daemon_url = %q
refresh_ms = %d
timeout_ms = 2000
`, DefaultDaemonURL, DefaultRefresh.Milliseconds())
}
