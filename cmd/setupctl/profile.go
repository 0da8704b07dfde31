package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 10 * time.Second
)

// profile is the connection profile kept in ~/.setupctl.yaml.
type profile struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".setupctl.yaml"
	}
	return filepath.Join(home, ".setupctl.yaml")
}

// loadProfile reads path on top of the defaults, then applies SETUPCTL_*
// environment variables. A missing file is not an error.
func loadProfile(path string) (profile, error) {
	p := profile{BaseURL: defaultBaseURL, Timeout: defaultTimeout}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return profile{}, fmt.Errorf("profile: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return profile{}, fmt.Errorf("profile: decode %s: %w", path, err)
		}
	}

	if v := os.Getenv("SETUPCTL_BASE_URL"); v != "" {
		p.BaseURL = v
	}
	if v := os.Getenv("SETUPCTL_API_KEY"); v != "" {
		p.APIKey = v
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	return p, nil
}
