//go:build !portaudio

package audio

import (
	"context"
	"fmt"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

// PortAudioCapture is unavailable in builds without the portaudio tag.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Devices(_ context.Context) ([]domain.InputDevice, error) {
	return nil, fmt.Errorf("%w: built without portaudio support", domain.ErrAudioSetup)
}

func (c *PortAudioCapture) Permission(_ context.Context) domain.PermissionState {
	return domain.PermissionUnsupported
}

func (c *PortAudioCapture) Open(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	return nil, fmt.Errorf("%w: built without portaudio support", domain.ErrAudioSetup)
}
