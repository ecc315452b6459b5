package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizeBuckets()
	c.normalizeRecorder()
	c.normalizePlayer()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.ProjectURL = strings.TrimRight(strings.TrimSpace(c.Backend.ProjectURL), "/")
	if c.Backend.ProjectURL == "" {
		if value, ok := os.LookupEnv("MURMUR_PROJECT_URL"); ok {
			c.Backend.ProjectURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Backend.AnonKey = strings.TrimSpace(c.Backend.AnonKey)
	if c.Backend.AnonKey == "" {
		if value, ok := os.LookupEnv("MURMUR_ANON_KEY"); ok {
			c.Backend.AnonKey = strings.TrimSpace(value)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizeBuckets() {
	if strings.TrimSpace(c.Buckets.Avatars) == "" {
		c.Buckets.Avatars = defaultAvatarsBucket
	}
	if strings.TrimSpace(c.Buckets.PostImages) == "" {
		c.Buckets.PostImages = defaultPostImagesBucket
	}
	if strings.TrimSpace(c.Buckets.VoiceRecordings) == "" {
		c.Buckets.VoiceRecordings = defaultRecordingsBucket
	}
}

func (c *Config) normalizeRecorder() {
	if strings.TrimSpace(c.Recorder.CaptureBinary) == "" {
		c.Recorder.CaptureBinary = defaultCaptureBinary
	}
	if strings.TrimSpace(c.Recorder.Device) == "" {
		c.Recorder.Device = defaultCaptureDevice
	}
	if c.Recorder.MaxSeconds <= 0 {
		c.Recorder.MaxSeconds = defaultRecorderMaxSecs
	}
}

func (c *Config) normalizePlayer() {
	if strings.TrimSpace(c.Player.Binary) == "" {
		c.Player.Binary = defaultPlayerBinary
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
