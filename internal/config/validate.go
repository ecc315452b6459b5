package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateRecorder(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.ProjectURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/murmur/config.toml"
		}
		return fmt.Errorf("backend.project_url is required. Set MURMUR_PROJECT_URL or edit %s (create with 'murmur config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Backend.ProjectURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.project_url must be an absolute URL, got %q", c.Backend.ProjectURL)
	}
	if c.Backend.AnonKey == "" {
		return errors.New("backend.anon_key is required. Set MURMUR_ANON_KEY or add it to the config file")
	}
	return nil
}

func (c *Config) validateRecorder() error {
	if c.Recorder.MaxSeconds <= 0 {
		return errors.New("recorder.max_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
