package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                   string
	DatabaseURL           string
	AssetDir              string
	AutoPlay              bool
	StreamQuality         string
	MaxMediaDurationSec   int
	MaxRemoteAudioSizeMB  int
	MaxDirectURLSizeMB    int
	MaxAttachmentSizeMB   int
	DownloadTimeoutSec    int
	BackendCallTimeoutSec int
	StreamEndGraceSec     int
	SetupSessionTTLMin    int
	PlaybackWebhookURL    string
	RemoteProxy           string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.MaxMediaDurationSec < 0 {
		return fmt.Errorf("MAX_MEDIA_DURATION_SEC must not be negative, got %d", c.MaxMediaDurationSec)
	}
	for _, limit := range []struct {
		name  string
		value int
	}{
		{"MAX_REMOTE_AUDIO_SIZE_MB", c.MaxRemoteAudioSizeMB},
		{"MAX_DIRECT_URL_SIZE_MB", c.MaxDirectURLSizeMB},
		{"MAX_ATTACHMENT_SIZE_MB", c.MaxAttachmentSizeMB},
	} {
		if limit.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", limit.name, limit.value)
		}
	}
	if c.DownloadTimeoutSec <= 0 {
		return fmt.Errorf("DOWNLOAD_TIMEOUT_SEC must be positive, got %d", c.DownloadTimeoutSec)
	}
	if c.BackendCallTimeoutSec <= 0 {
		return fmt.Errorf("BACKEND_CALL_TIMEOUT_SEC must be positive, got %d", c.BackendCallTimeoutSec)
	}
	if c.SetupSessionTTLMin <= 0 {
		return fmt.Errorf("SETUP_SESSION_TTL_MIN must be positive, got %d", c.SetupSessionTTLMin)
	}
	switch c.StreamQuality {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("STREAM_QUALITY must be one of low/medium/high, got %q", c.StreamQuality)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

func (c *Config) BackendCallTimeout() time.Duration {
	return time.Duration(c.BackendCallTimeoutSec) * time.Second
}

func (c *Config) StreamEndGrace() time.Duration {
	return time.Duration(c.StreamEndGraceSec) * time.Second
}

func (c *Config) SetupSessionTTL() time.Duration {
	return time.Duration(c.SetupSessionTTLMin) * time.Minute
}

func (c *Config) MaxRemoteAudioBytes() int64 {
	return int64(c.MaxRemoteAudioSizeMB) * 1024 * 1024
}

func (c *Config) MaxDirectURLBytes() int64 {
	return int64(c.MaxDirectURLSizeMB) * 1024 * 1024
}

func (c *Config) MaxAttachmentBytes() int64 {
	return int64(c.MaxAttachmentSizeMB) * 1024 * 1024
}
