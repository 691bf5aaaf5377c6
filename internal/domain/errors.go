package domain

import (
	"errors"
	"fmt"
)

// Setup errors.
var (
	ErrNoDevicesFound    = errors.New("no audio input devices found")
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrAudioSetup        = errors.New("audio processing setup failed")
)

// Handshake and transport errors.
var (
	ErrConnectionTimeout = errors.New("timed out waiting for connection_ready")
	ErrConnectionDropped = errors.New("connection dropped during handshake")
	ErrTransport         = errors.New("transport error")
	ErrNotConnected      = errors.New("socket is not open")
)

// ServerError is an application error reported by the backend over the socket.
// It never forces a disconnect.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Classify maps an error onto the code shown to the user.
func Classify(err error) ErrorCode {
	var serverErr *ServerError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &serverErr):
		return ErrorCodeServer
	case errors.Is(err, ErrNoDevicesFound):
		return ErrorCodeNoDevices
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermission
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorCodeDevice
	case errors.Is(err, ErrAudioSetup):
		return ErrorCodeAudioSetup
	case errors.Is(err, ErrConnectionTimeout):
		return ErrorCodeTimeout
	case errors.Is(err, ErrConnectionDropped):
		return ErrorCodeDropped
	case errors.Is(err, ErrTransport), errors.Is(err, ErrNotConnected):
		return ErrorCodeTransport
	default:
		return ErrorCodeSession
	}
}
