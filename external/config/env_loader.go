package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/hazuki-lab/utawakun/internal/config"
)

type envConfig struct {
	Env                   string `env:"ENV" envDefault:"production"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	AssetDir              string `env:"ASSET_DIR"`
	AutoPlay              bool   `env:"AUTO_PLAY" envDefault:"true"`
	StreamQuality         string `env:"STREAM_QUALITY" envDefault:"medium"`
	MaxMediaDurationSec   int    `env:"MAX_MEDIA_DURATION_SEC" envDefault:"3600"`
	MaxRemoteAudioSizeMB  int    `env:"MAX_REMOTE_AUDIO_SIZE_MB" envDefault:"50"`
	MaxDirectURLSizeMB    int    `env:"MAX_DIRECT_URL_SIZE_MB" envDefault:"100"`
	MaxAttachmentSizeMB   int    `env:"MAX_ATTACHMENT_SIZE_MB" envDefault:"200"`
	DownloadTimeoutSec    int    `env:"DOWNLOAD_TIMEOUT_SEC" envDefault:"60"`
	BackendCallTimeoutSec int    `env:"BACKEND_CALL_TIMEOUT_SEC" envDefault:"30"`
	StreamEndGraceSec     int    `env:"STREAM_END_GRACE_SEC" envDefault:"5"`
	SetupSessionTTLMin    int    `env:"SETUP_SESSION_TTL_MIN" envDefault:"10"`
	PlaybackWebhookURL    string `env:"PLAYBACK_WEBHOOK_URL"`
	RemoteProxy           string `env:"REMOTE_PROXY"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		DatabaseURL:           raw.DatabaseURL,
		AssetDir:              raw.AssetDir,
		AutoPlay:              raw.AutoPlay,
		StreamQuality:         raw.StreamQuality,
		MaxMediaDurationSec:   raw.MaxMediaDurationSec,
		MaxRemoteAudioSizeMB:  raw.MaxRemoteAudioSizeMB,
		MaxDirectURLSizeMB:    raw.MaxDirectURLSizeMB,
		MaxAttachmentSizeMB:   raw.MaxAttachmentSizeMB,
		DownloadTimeoutSec:    raw.DownloadTimeoutSec,
		BackendCallTimeoutSec: raw.BackendCallTimeoutSec,
		StreamEndGraceSec:     raw.StreamEndGraceSec,
		SetupSessionTTLMin:    raw.SetupSessionTTLMin,
		PlaybackWebhookURL:    raw.PlaybackWebhookURL,
		RemoteProxy:           raw.RemoteProxy,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
