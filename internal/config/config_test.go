package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configKeys = []string{
	"LIVENOTES_API_BASE",
	"LIVENOTES_WS_BASE",
	"LIVENOTES_API_TOKEN",
	"LIVENOTES_AUDIO_BACKEND",
	"LIVENOTES_FFMPEG_COMMAND",
	"LIVENOTES_AUDIO_INPUT_FORMAT",
	"LIVENOTES_AUDIO_INPUT_DEVICE",
	"LIVENOTES_SILENCE_THRESHOLD",
	"LIVENOTES_ENGINE_TYPE",
	"LIVENOTES_VOICE_FORMAT",
	"LIVENOTES_HANDSHAKE_TIMEOUT_MS",
	"LIVENOTES_AUTOSAVE_INTERVAL_MS",
	"LIVENOTES_DATA_DIR",
	"LIVENOTES_ARCHIVE_AUDIO",
	"LIVENOTES_LOG_FILE",
	"LIVENOTES_LOG_LEVEL",
}

// isolate points HOME at an empty dir, runs from an empty working dir and
// clears every key, so neither the developer's env nor a stray .env leaks in.
func isolate(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
	chdir(t, t.TempDir())
	return home
}

// chdir changes the working directory for the rest of the test and restores
// it on cleanup (testing.T.Chdir needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()

	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working dir: %v", err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.APIBaseURL != "http://localhost:8000" || cfg.Backend.WSBaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Backend.HandshakeTimeout != 10*time.Second {
		t.Fatalf("unexpected handshake timeout: %s", cfg.Backend.HandshakeTimeout)
	}
	if cfg.Audio.Backend != AudioBackendFFMPEG || cfg.Audio.InputFormat != "pulse" || cfg.Audio.InputDevice != "default" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SilenceThreshold != 100 {
		t.Fatalf("unexpected silence threshold: %v", cfg.Audio.SilenceThreshold)
	}
	if cfg.Recording.EngineType != "16k_en" || cfg.Recording.VoiceFormat != 1 || cfg.Recording.AutosaveInterval != 30*time.Second {
		t.Fatalf("unexpected recording config: %+v", cfg.Recording)
	}
	if cfg.Storage.DataDir != filepath.Join(home, ".local", "share", "livenotes") || cfg.Storage.ArchiveAudio {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.RecordingsDir() != filepath.Join(cfg.Storage.DataDir, "recordings") {
		t.Fatalf("unexpected recordings dir: %s", cfg.RecordingsDir())
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	home := isolate(t)

	t.Setenv("LIVENOTES_API_BASE", "https://notes.example.com/")
	t.Setenv("LIVENOTES_API_TOKEN", " secret ")
	t.Setenv("LIVENOTES_AUDIO_BACKEND", "PortAudio")
	t.Setenv("LIVENOTES_SILENCE_THRESHOLD", "250.5")
	t.Setenv("LIVENOTES_VOICE_FORMAT", "-3")
	t.Setenv("LIVENOTES_HANDSHAKE_TIMEOUT_MS", "2500")
	t.Setenv("LIVENOTES_AUTOSAVE_INTERVAL_MS", "not-a-number")
	t.Setenv("LIVENOTES_DATA_DIR", "~/notes")
	t.Setenv("LIVENOTES_ARCHIVE_AUDIO", "yes")
	t.Setenv("LIVENOTES_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.APIBaseURL != "https://notes.example.com" || cfg.Backend.WSBaseURL != "https://notes.example.com" {
		t.Fatalf("ws base should derive from api base: %+v", cfg.Backend)
	}
	if cfg.Backend.Token != "secret" || cfg.Backend.HandshakeTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Audio.Backend != AudioBackendPortAudio || cfg.Audio.SilenceThreshold != 250.5 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Recording.VoiceFormat != 1 || cfg.Recording.AutosaveInterval != 30*time.Second {
		t.Fatalf("invalid values should fall back: %+v", cfg.Recording)
	}
	if cfg.Storage.DataDir != filepath.Join(home, "notes") || !cfg.Storage.ArchiveAudio {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
}

func TestLoadRejectsUnknownAudioBackend(t *testing.T) {
	isolate(t)
	t.Setenv("LIVENOTES_AUDIO_BACKEND", "coreaudio")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	home := isolate(t)

	envDir := filepath.Join(home, ".config", "livenotes")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	content := "LIVENOTES_ENGINE_TYPE=8k_zh\nLIVENOTES_WS_BASE=wss://ws.example.com\n"
	if err := os.WriteFile(filepath.Join(envDir, "livenotes.env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(".env", []byte("LIVENOTES_ENGINE_TYPE=16k_zh\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	os.Unsetenv("LIVENOTES_WS_BASE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.WSBaseURL != "wss://ws.example.com" {
		t.Fatalf("expected ws base from env file, got %s", cfg.Backend.WSBaseURL)
	}
	// t.Setenv set the key to "", which godotenv treats as already present.
	if cfg.Recording.EngineType != "16k_en" {
		t.Fatalf("existing environment must win over .env, got %s", cfg.Recording.EngineType)
	}
}
