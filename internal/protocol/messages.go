// Package protocol defines the JSON envelope spoken over the recording websocket.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"livenotes/internal/domain"
)

// Inbound message types (server to client).
const (
	TypeConnectionReady   = "connection_ready"
	TypeTranscriptPartial = "transcript_partial"
	TypeTranscriptFinal   = "transcript_final"
	TypeStatusUpdate      = "status_update"
	TypeRecordingStarted  = "recording_started"
	TypeConnectionPending = "connection_pending"
	TypeRecordingStopped  = "recording_stopped"
	TypeRecordingPaused   = "recording_paused"
	TypeRecordingResumed  = "recording_resumed"
	TypeError             = "error"

	// TypeDisconnected is synthesized locally when the socket drops.
	TypeDisconnected = "disconnected"
)

// Outbound command types (client to server).
const (
	TypeStartRecording  = "start_recording"
	TypeStopRecording   = "stop_recording"
	TypePauseRecording  = "pause_recording"
	TypeResumeRecording = "resume_recording"
	TypeAudioChunk      = "audio_chunk"
)

// Envelope is the shape of every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioConfig describes the PCM stream announced by start_recording.
type AudioConfig struct {
	SampleRate  int    `json:"sample_rate"`
	Format      string `json:"format"`
	VoiceFormat int    `json:"voice_format"`
	EngineType  string `json:"engine_type"`
}

type StartRecordingData struct {
	AudioConfig AudioConfig `json:"audio_config"`
}

type AudioChunkData struct {
	AudioData string `json:"audio_data"`
}

// SegmentID accepts either a JSON string or a JSON number.
type SegmentID string

func (s *SegmentID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*s = ""
		return nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		*s = SegmentID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return fmt.Errorf("segment_id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(number.String(), 64); err != nil {
		return fmt.Errorf("segment_id must be a string or number: %w", err)
	}
	*s = SegmentID(number.String())
	return nil
}

// TranscriptData is carried by transcript_partial and transcript_final.
type TranscriptData struct {
	SegmentID  SegmentID `json:"segment_id"`
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	IsFinal    bool      `json:"is_final"`
}

// StatusData is carried by status and lifecycle messages.
type StatusData struct {
	Message             string `json:"message"`
	DelayedConnection   bool   `json:"delayed_connection,omitempty"`
	ImmediateConnection bool   `json:"immediate_connection,omitempty"`
}

type ErrorData struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// DisconnectedData is attached to the synthesized disconnected message.
type DisconnectedData struct {
	Reason string `json:"reason"`
}

var emptyObject = json.RawMessage("{}")

// Encode builds one wire message. A nil payload encodes as an empty object.
func Encode(msgType string, data any) ([]byte, error) {
	env := Envelope{Type: msgType, Data: emptyObject}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Data = payload
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return out, nil
}

// Decode parses one inbound message.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Bind decodes the envelope payload into v. Missing data leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewAudioChunk wraps one encoded PCM frame for transport.
func NewAudioChunk(frame []byte) AudioChunkData {
	return AudioChunkData{AudioData: base64.StdEncoding.EncodeToString(frame)}
}

// DecodeError extracts the server error carried by an error message.
func DecodeError(msg Envelope) *domain.ServerError {
	var data ErrorData
	if err := msg.Bind(&data); err != nil {
		return &domain.ServerError{Message: err.Error()}
	}
	message := strings.TrimSpace(data.Message)
	if message == "" {
		message = "server returned an unknown error"
	}
	return &domain.ServerError{Code: data.ErrorCode, Message: message}
}
