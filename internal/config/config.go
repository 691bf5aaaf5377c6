package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the recording client.
type Config struct {
	Backend   BackendConfig
	Audio     AudioConfig
	Recording RecordingConfig
	Storage   StorageConfig
	Log       LogConfig
}

type BackendConfig struct {
	APIBaseURL       string
	WSBaseURL        string
	Token            string
	HandshakeTimeout time.Duration
}

type AudioConfig struct {
	Backend          string
	RecorderCommand  string
	InputFormat      string
	InputDevice      string
	SilenceThreshold float64
}

type RecordingConfig struct {
	EngineType       string
	VoiceFormat      int
	AutosaveInterval time.Duration
}

type StorageConfig struct {
	DataDir      string
	ArchiveAudio bool
}

type LogConfig struct {
	File  string
	Level string
}

const (
	AudioBackendFFMPEG    = "ffmpeg"
	AudioBackendPortAudio = "portaudio"
)

// Load reads optional .env files, then resolves configuration from
// environment variables and defaults. Variables already set win over files.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadEnvFiles(".env", filepath.Join(home, ".config", "livenotes", "livenotes.env")); err != nil {
		return Config{}, err
	}

	apiBase := strings.TrimRight(envOrDefault("LIVENOTES_API_BASE", "http://localhost:8000"), "/")
	cfg := Config{
		Backend: BackendConfig{
			APIBaseURL:       apiBase,
			WSBaseURL:        strings.TrimRight(envOrDefault("LIVENOTES_WS_BASE", apiBase), "/"),
			Token:            strings.TrimSpace(os.Getenv("LIVENOTES_API_TOKEN")),
			HandshakeTimeout: envOrDefaultDuration("LIVENOTES_HANDSHAKE_TIMEOUT_MS", 10*time.Second),
		},
		Audio: AudioConfig{
			Backend:          strings.ToLower(envOrDefault("LIVENOTES_AUDIO_BACKEND", AudioBackendFFMPEG)),
			RecorderCommand:  envOrDefault("LIVENOTES_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:      envOrDefault("LIVENOTES_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:      envOrDefault("LIVENOTES_AUDIO_INPUT_DEVICE", "default"),
			SilenceThreshold: envOrDefaultFloat("LIVENOTES_SILENCE_THRESHOLD", 100),
		},
		Recording: RecordingConfig{
			EngineType:       envOrDefault("LIVENOTES_ENGINE_TYPE", "16k_en"),
			VoiceFormat:      envOrDefaultInt("LIVENOTES_VOICE_FORMAT", 1),
			AutosaveInterval: envOrDefaultDuration("LIVENOTES_AUTOSAVE_INTERVAL_MS", 30*time.Second),
		},
		Storage: StorageConfig{
			DataDir:      expandHome(envOrDefault("LIVENOTES_DATA_DIR", filepath.Join(home, ".local", "share", "livenotes")), home),
			ArchiveAudio: envOrDefaultBool("LIVENOTES_ARCHIVE_AUDIO", false),
		},
		Log: LogConfig{
			File:  expandHome(strings.TrimSpace(os.Getenv("LIVENOTES_LOG_FILE")), home),
			Level: strings.ToLower(envOrDefault("LIVENOTES_LOG_LEVEL", "info")),
		},
	}

	if cfg.Audio.Backend != AudioBackendFFMPEG && cfg.Audio.Backend != AudioBackendPortAudio {
		return Config{}, fmt.Errorf("unsupported audio backend %q", cfg.Audio.Backend)
	}
	if cfg.Audio.SilenceThreshold < 0 {
		cfg.Audio.SilenceThreshold = 100
	}
	if cfg.Recording.VoiceFormat <= 0 {
		cfg.Recording.VoiceFormat = 1
	}

	return cfg, nil
}

// RecordingsDir is where WAV archives are written.
func (c Config) RecordingsDir() string {
	return filepath.Join(c.Storage.DataDir, "recordings")
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func expandHome(path string, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
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

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
