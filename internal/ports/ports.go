package ports

import (
	"context"
	"time"

	"livenotes/internal/domain"
	"livenotes/internal/protocol"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioSession is a live capture session delivering float samples in
// whatever block size the backend produces.
type AudioSession interface {
	Read(p []float32) (int, error)
	Stop() error
}

// AudioBackend discovers devices and opens capture sessions.
type AudioBackend interface {
	Devices(ctx context.Context) ([]domain.InputDevice, error)
	Permission(ctx context.Context) domain.PermissionState
	Open(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// CaptureStream is the stream held by the device manager. Dropped counts
// captured blocks that never reached Read.
type CaptureStream interface {
	Read(p []float32) (int, error)
	Level() float64
	DeviceID() string
	Dropped() uint64
}

// Microphone is the device manager as seen by the session controller.
type Microphone interface {
	AcquireStream(ctx context.Context, deviceID string) (CaptureStream, error)
	ActiveStream() CaptureStream
	ReleaseStream() error
}

// Listener receives one inbound message of a subscribed type.
type Listener func(msg protocol.Envelope)

// Channel is one bidirectional socket to the backend for one session.
type Channel interface {
	Connect(ctx context.Context, sessionID string, token string) error
	Subscribe(msgType string, fn Listener) (unsubscribe func())
	StartRecording(cfg protocol.AudioConfig) error
	PauseRecording() error
	ResumeRecording() error
	StopRecording() error
	SendAudio(frame []byte) error
	Disconnect()
	State() domain.ConnectionState
}

// ChannelFactory creates a fresh channel per recording session.
type ChannelFactory interface {
	NewChannel() Channel
}

// SessionAPI is the slice of the REST backend the controller needs.
type SessionAPI interface {
	CreateSession(ctx context.Context, title string) (domain.RecordingSession, error)
	UpdateNote(ctx context.Context, doc domain.NotesDocument) error
}

// LocalStore journals drafts and transcripts on disk.
type LocalStore interface {
	SaveDraft(ctx context.Context, doc domain.NotesDocument) error
	MarkDraftSynced(ctx context.Context, noteID string, version int) error
	SaveTranscript(ctx context.Context, sessionID string, items []domain.TranscriptItem) error
}

// DraftJournal is a LocalStore that can list drafts never pushed upstream.
type DraftJournal interface {
	LocalStore
	PendingNotes(ctx context.Context) ([]domain.NotesDocument, error)
}

// FrameArchive optionally keeps a local copy of transmitted audio.
type FrameArchive interface {
	WriteFrame(samples []int16) error
	Close() error
}

// ArchiveFactory opens one archive per session.
type ArchiveFactory interface {
	OpenArchive(sessionID string) (FrameArchive, error)
}

// EventSink emits controller state and events to the UI.
type EventSink interface {
	RecordingStateChanged(state domain.RecordingState, reason domain.StateReason)
	ConnectionStateChanged(state domain.ConnectionState)
	TranscriptUpdated(update domain.TranscriptUpdate)
	StatusMessage(message string)
	AudioLevel(level float64)
	ElapsedChanged(elapsed time.Duration)
	NotesSaved(noteID string, at time.Time)
	SessionError(code domain.ErrorCode, detail string)
	Navigate(route string)
}
