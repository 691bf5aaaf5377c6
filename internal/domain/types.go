package domain

import "time"

// RecordingState models the recording screen lifecycle.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStatePreparing RecordingState = "preparing"
	RecordingStateRecording RecordingState = "recording"
	RecordingStatePaused    RecordingState = "paused"
	RecordingStateStopped   RecordingState = "stopped"
	RecordingStateError     RecordingState = "error"
)

// Terminal reports whether the state can only be left through a reset.
func (s RecordingState) Terminal() bool {
	return s == RecordingStateStopped || s == RecordingStateError
}

// ConnectionState models the transport channel lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateError        ConnectionState = "error"
)

// StateReason provides a structured reason for recording state transitions.
type StateReason string

const (
	StateReasonMicReady         StateReason = "mic_ready"
	StateReasonSessionCreating  StateReason = "session_creating"
	StateReasonAwaitingServer   StateReason = "awaiting_server"
	StateReasonRecordingStarted StateReason = "recording_started"
	StateReasonPaused           StateReason = "paused"
	StateReasonResumed          StateReason = "resumed"
	StateReasonStopped          StateReason = "stopped"
	StateReasonStartFailed      StateReason = "start_failed"
	StateReasonTornDown         StateReason = "torn_down"
	StateReasonReset            StateReason = "reset"
)

// ErrorCode identifies non-fatal and fatal client errors shown to the user.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodeNoDevices      ErrorCode = "no_devices"
	ErrorCodePermission     ErrorCode = "permission_denied"
	ErrorCodeDevice         ErrorCode = "device_unavailable"
	ErrorCodeAudioSetup     ErrorCode = "audio_setup"
	ErrorCodeAudioStream    ErrorCode = "audio_stream"
	ErrorCodeSession        ErrorCode = "session_create"
	ErrorCodeTimeout        ErrorCode = "connection_timeout"
	ErrorCodeDropped        ErrorCode = "connection_dropped"
	ErrorCodeTransport      ErrorCode = "transport"
	ErrorCodeConnectionLost ErrorCode = "connection_lost"
	ErrorCodeServer         ErrorCode = "server"
	ErrorCodePersistence    ErrorCode = "persistence"
)

// PermissionState is the microphone permission as reported by the capture backend.
type PermissionState string

const (
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionPrompt      PermissionState = "prompt"
	PermissionUnsupported PermissionState = "unsupported"
)

// InputDevice describes one audio input.
type InputDevice struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// RecordingSession is one live-capture session created by the backend.
type RecordingSession struct {
	ID           string    `json:"sessionId"`
	NoteID       string    `json:"noteId"`
	TranscriptID string    `json:"transcriptId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TranscriptItem is one utterance. SegmentID is the dedup key.
type TranscriptItem struct {
	SegmentID  string    `json:"segmentId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	IsFinal    bool      `json:"isFinal"`
}

// TranscriptUpdate tells the UI where an item landed in the log.
type TranscriptUpdate struct {
	Item     TranscriptItem `json:"item"`
	Index    int            `json:"index"`
	Replaced bool           `json:"replaced"`
}

// NotesDocument is the user-edited notes content for a session.
type NotesDocument struct {
	NoteID  string `json:"noteId"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Version int    `json:"version"`
}

// StopResult is returned once a session is stopped and flushed.
type StopResult struct {
	SessionID    string `json:"sessionId"`
	NoteID       string `json:"noteId"`
	TranscriptID string `json:"transcriptId"`
	Segments     int    `json:"segments"`
	NotesSaved   bool   `json:"notesSaved"`
	Route        string `json:"route"`
}

// Status summarizes the current controller status.
type Status struct {
	Recording       RecordingState  `json:"recording"`
	Connection      ConnectionState `json:"connection"`
	AudioFlowing    bool            `json:"audioFlowing"`
	AwaitingServer  bool            `json:"awaitingServer"`
	ElapsedSeconds  float64         `json:"elapsedSeconds"`
	SessionID       string          `json:"sessionId,omitempty"`
	NoteID          string          `json:"noteId,omitempty"`
	Title           string          `json:"title,omitempty"`
	Message         string          `json:"message,omitempty"`
	DeviceID        string          `json:"deviceId,omitempty"`
	TranscriptCount int             `json:"transcriptCount"`
	UnsavedNotes    bool            `json:"unsavedNotes"`
}
