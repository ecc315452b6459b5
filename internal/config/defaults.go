package config

const (
	defaultDataDir           = "~/.local/share/murmur"
	defaultStagingDir        = "~/.local/share/murmur/staging"
	defaultLogDir            = "~/.local/share/murmur/logs"
	defaultRequestTimeout    = 15
	defaultAvatarsBucket     = "avatars"
	defaultPostImagesBucket  = "post-images"
	defaultRecordingsBucket  = "voice-recordings"
	defaultCaptureBinary     = "ffmpeg"
	defaultCaptureDevice     = "default"
	defaultRecorderMaxSecs   = 300
	defaultPlayerBinary      = "mpv"
	defaultNtfyTimeout       = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			RequestTimeout: defaultRequestTimeout,
		},
		Buckets: Buckets{
			Avatars:         defaultAvatarsBucket,
			PostImages:      defaultPostImagesBucket,
			VoiceRecordings: defaultRecordingsBucket,
		},
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Recorder: Recorder{
			CaptureBinary: defaultCaptureBinary,
			Device:        defaultCaptureDevice,
			MaxSeconds:    defaultRecorderMaxSecs,
			WatchDevices:  true,
		},
		Player: Player{
			Binary: defaultPlayerBinary,
			Args:   []string{"--no-video", "--really-quiet"},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
