package bootstrap

import (
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/audio"
	"livenotes/internal/backend"
	"livenotes/internal/config"
	"livenotes/internal/pcm"
	"livenotes/internal/ports"
	"livenotes/internal/protocol"
	"livenotes/internal/store"
	"livenotes/internal/transport"
	"livenotes/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Devices    *audio.DeviceManager
	Backend    *backend.Client
	Store      *store.Store
	Config     config.Config
}

// Close releases resources held outside the controller.
func (s Services) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// Build wires all backend dependencies for the current runtime.
func Build(cfg config.Config, eventSink ports.EventSink, log logger.Logger) (Services, error) {
	journal, err := store.Open(store.DefaultPath(cfg.Storage.DataDir))
	if err != nil {
		return Services{}, err
	}

	capture, err := captureBackend(cfg.Audio)
	if err != nil {
		_ = journal.Close()
		return Services{}, err
	}
	devices := audio.NewDeviceManager(
		capture,
		ports.AudioConfig{
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		eventSink.AudioLevel,
		log,
	)

	api := backend.New(cfg.Backend.APIBaseURL, backend.WithToken(cfg.Backend.Token))

	// A nil *WAVArchiveFactory in the interface would look enabled.
	var archives ports.ArchiveFactory
	if cfg.Storage.ArchiveAudio {
		archives = audio.NewWAVArchiveFactory(cfg.RecordingsDir())
	}

	controller := usecase.NewSessionController(
		usecase.Deps{
			Microphone: devices,
			API:        api,
			Channels: transport.NewFactory(transport.Config{
				BaseURL:          cfg.Backend.WSBaseURL,
				HandshakeTimeout: cfg.Backend.HandshakeTimeout,
			}, log),
			Store:    journal,
			Archives: archives,
			Events:   eventSink,
			Log:      log,
		},
		usecase.Config{
			Audio: protocol.AudioConfig{
				SampleRate:  pcm.SampleRate,
				Format:      "pcm",
				VoiceFormat: cfg.Recording.VoiceFormat,
				EngineType:  cfg.Recording.EngineType,
			},
			Token:            cfg.Backend.Token,
			SilenceThreshold: cfg.Audio.SilenceThreshold,
			AutosaveInterval: cfg.Recording.AutosaveInterval,
		},
	)

	return Services{
		Controller: controller,
		Devices:    devices,
		Backend:    api,
		Store:      journal,
		Config:     cfg,
	}, nil
}

func captureBackend(cfg config.AudioConfig) (ports.AudioBackend, error) {
	switch cfg.Backend {
	case config.AudioBackendFFMPEG, "":
		return audio.NewFFMPEGCapture(cfg.RecorderCommand, cfg.InputFormat), nil
	case config.AudioBackendPortAudio:
		return audio.NewPortAudioCapture(), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}
