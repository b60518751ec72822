package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"totari/model"
)

// Config stores runtime configuration resolved from the environment.
type Config struct {
	ElevenLabs ElevenLabsConfig
	Firebase   FirebaseConfig
	Store      StoreConfig
	Audio      AudioConfig
	Device     DeviceConfig
}

type ElevenLabsConfig struct {
	APIKey            string
	BaseURL           string
	STTModel          string
	TTSModel          string
	VoiceID           string
	TranscribeTimeout time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	APIKey          string
	CredentialsFile string
}

// StoreConfig selects the document backend. Backend is one of
// "firestore", "sqlite" or "none".
type StoreConfig struct {
	Backend      string
	SQLitePath   string
	PollInterval time.Duration
}

type AudioConfig struct {
	Format      string
	SampleRate  int
	Channels    int
	MinDuration time.Duration
	MaxDuration time.Duration
	MaxFileSize int
}

type DeviceConfig struct {
	ConfigDir string
	Override  string
}

const (
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
	BackendNone      = "none"
)

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := envOrDefault("TOTARI_CONFIG_DIR", filepath.Join(home, ".totari"))

	cfg := Config{
		ElevenLabs: ElevenLabsConfig{
			APIKey:            strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
			BaseURL:           strings.TrimRight(envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"), "/"),
			STTModel:          envOrDefault("ELEVENLABS_STT_MODEL", "scribe_v1"),
			TTSModel:          envOrDefault("ELEVENLABS_TTS_MODEL", "eleven_multilingual_v1"),
			VoiceID:           envOrDefault("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
			TranscribeTimeout: envOrDefaultDuration("TOTARI_TRANSCRIBE_TIMEOUT", 120*time.Second),
		},
		Firebase: FirebaseConfig{
			ProjectID:       envOrDefault("FIREBASE_PROJECT_ID", "totari-real"),
			APIKey:          strings.TrimSpace(os.Getenv("FIREBASE_API_KEY")),
			CredentialsFile: strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		},
		Store: StoreConfig{
			Backend:      strings.ToLower(envOrDefault("TOTARI_STORE", BackendFirestore)),
			SQLitePath:   envOrDefault("TOTARI_SQLITE_PATH", filepath.Join(configDir, "totari.db")),
			PollInterval: time.Duration(envOrDefaultInt("POLL_INTERVAL", 5)) * time.Second,
		},
		Audio: AudioConfig{
			Format:      strings.ToLower(envOrDefault("AUDIO_FORMAT", "wav")),
			SampleRate:  envOrDefaultInt("AUDIO_SAMPLE_RATE", 44100),
			Channels:    envOrDefaultInt("AUDIO_CHANNELS", 1),
			MinDuration: time.Duration(envOrDefaultInt("MIN_AUDIO_DURATION", 1)) * time.Second,
			MaxDuration: time.Duration(envOrDefaultInt("MAX_AUDIO_DURATION", 1200)) * time.Second,
			MaxFileSize: envOrDefaultInt("MAX_FILE_SIZE", 26214400),
		},
		Device: DeviceConfig{
			ConfigDir: configDir,
			Override:  strings.TrimSpace(os.Getenv("TOTARI_DEVICE_ID")),
		},
	}

	if cfg.Store.PollInterval <= 0 {
		cfg.Store.PollInterval = 5 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 44100
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.MaxFileSize <= 0 {
		cfg.Audio.MaxFileSize = 26214400
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendFirestore, BackendSQLite, BackendNone:
	default:
		return fmt.Errorf("unknown store backend %q (want firestore, sqlite or none)", c.Store.Backend)
	}
	switch c.Audio.Format {
	case "wav", "flac":
	default:
		return fmt.Errorf("unsupported audio format %q (want wav or flac)", c.Audio.Format)
	}
	if c.Audio.MinDuration <= 0 || c.Audio.MinDuration > c.Audio.MaxDuration {
		return fmt.Errorf("audio duration bounds [%s, %s] are inconsistent", c.Audio.MinDuration, c.Audio.MaxDuration)
	}
	return nil
}

// TranscriptionEnabled reports whether speech-to-text credentials are configured.
func (c Config) TranscriptionEnabled() bool {
	return c.ElevenLabs.APIKey != ""
}

// Limits returns the audio bounds as payload limits.
func (a AudioConfig) Limits() model.AudioLimits {
	return model.AudioLimits{
		MinDurationSec: int(a.MinDuration / time.Second),
		MaxDurationSec: int(a.MaxDuration / time.Second),
		MaxSizeBytes:   a.MaxFileSize,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	return firstNonEmpty(os.Getenv(key), fallback)
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts Go durations ("90s") or whole seconds ("90").
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
