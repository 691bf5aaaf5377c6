//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/samber/lo"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

// PortAudioCapture opens callback-driven input streams through PortAudio.
// Device ids are PortAudio device names.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Devices(_ context.Context) ([]domain.InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %w", domain.ErrAudioSetup, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: portaudio devices: %w", domain.ErrDeviceUnavailable, err)
	}
	defaultName := ""
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	return lo.FilterMap(devices, func(d *portaudio.DeviceInfo, _ int) (domain.InputDevice, bool) {
		return domain.InputDevice{ID: d.Name, Label: d.Name, Default: d.Name == defaultName}, d.MaxInputChannels > 0
	}), nil
}

// Permission is not exposed by PortAudio.
func (c *PortAudioCapture) Permission(_ context.Context) domain.PermissionState {
	return domain.PermissionUnsupported
}

func (c *PortAudioCapture) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %w", domain.ErrAudioSetup, err)
	}

	device, err := findInputDevice(cfg.InputDevice)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	session := &portaudioSession{blocks: make(chan []float32, streamBacklog)}
	stream, err := portaudio.OpenStream(params, session.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open portaudio stream: %w", domain.ErrAudioSetup, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start portaudio stream: %w", domain.ErrDeviceUnavailable, err)
	}
	session.stream = stream
	return session, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}
	device, ok := lo.Find(devices, func(d *portaudio.DeviceInfo) bool {
		return d.Name == name && d.MaxInputChannels > 0
	})
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrDeviceUnavailable, name)
	}
	return device, nil
}

type portaudioSession struct {
	stream  *portaudio.Stream
	blocks  chan []float32
	pending []float32

	stopOnce sync.Once
	stopErr  error
}

func (s *portaudioSession) callback(in []float32) {
	block := append([]float32(nil), in...)
	select {
	case s.blocks <- block:
	default:
	}
}

func (s *portaudioSession) Read(p []float32) (int, error) {
	if len(s.pending) == 0 {
		block, ok := <-s.blocks
		if !ok {
			return 0, io.EOF
		}
		s.pending = block
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portaudioSession) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.stopErr = err
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
		close(s.blocks)
		_ = portaudio.Terminate()
	})
	return s.stopErr
}
