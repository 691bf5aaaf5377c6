package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livenotes/internal/backend"
	"livenotes/internal/bootstrap"
	"livenotes/internal/config"
	"livenotes/internal/domain"
	"livenotes/internal/ports"
	"livenotes/internal/usecase"
)

const (
	eventState      = "livenotes:state"
	eventConnection = "livenotes:connection"
	eventTranscript = "livenotes:transcript"
	eventStatus     = "livenotes:status"
	eventLevel      = "livenotes:level"
	eventElapsed    = "livenotes:elapsed"
	eventSaved      = "livenotes:saved"
	eventError      = "livenotes:error"
	eventNavigate   = "livenotes:navigate"
)

var _ ports.EventSink = (*App)(nil)

// UIError is the single error currently shown to the user.
type UIError struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Detail  string           `json:"detail"`
	At      time.Time        `json:"at"`
}

// App is the Wails application root.
type App struct {
	ctx context.Context

	cfg      config.Config
	log      logger.Logger
	services bootstrap.Services
	bootErr  error

	controller *usecase.SessionController

	emit      func(ctx context.Context, name string, data ...interface{})
	clipboard func(ctx context.Context, text string) error

	errMu      sync.Mutex
	currentErr *UIError
}

func NewApp(cfg config.Config, log logger.Logger, bootErr error) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		bootErr:   bootErr,
		emit:      runtime.EventsEmit,
		clipboard: runtime.ClipboardSetText,
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if a.bootErr != nil {
		a.SessionError(domain.ErrorCodeStartup, a.bootErr.Error())
		return
	}

	services, err := bootstrap.Build(a.cfg, a, a.log)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.controller = services.Controller
	a.RecordingStateChanged(domain.RecordingStateIdle, domain.StateReasonReset)

	go a.resyncDrafts(ctx)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Teardown()
	}
	if err := a.services.Close(); err != nil {
		a.log.Error(fmt.Sprintf("app: close services: %v", err))
	}
}

func (a *App) resyncDrafts(ctx context.Context) {
	if a.services.Store == nil || a.services.Backend == nil {
		return
	}
	if _, err := usecase.SyncPendingDrafts(ctx, a.services.Store, a.services.Backend, a.log); err != nil {
		a.log.Warning(fmt.Sprintf("app: pending drafts not fully synced: %v", err))
	}
}

// ListDevices returns the available microphones.
func (a *App) ListDevices() ([]domain.InputDevice, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	devices, err := a.services.Devices.ListInputDevices(a.ctx)
	if err != nil {
		a.SessionError(domain.Classify(err), err.Error())
		return nil, err
	}
	return devices, nil
}

// CheckPermission reports microphone permission as the capture backend sees it.
func (a *App) CheckPermission() domain.PermissionState {
	if a.requireReady() != nil {
		return domain.PermissionUnsupported
	}
	return a.services.Devices.CheckPermission(a.ctx)
}

// SelectDevice opens the chosen microphone for metering and the next recording.
func (a *App) SelectDevice(deviceID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SelectDevice(a.ctx, deviceID)
}

// StartRecording creates a session and starts live capture.
func (a *App) StartRecording(title string) (domain.RecordingSession, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingSession{}, err
	}
	a.DismissError()
	return a.controller.Start(a.ctx, strings.TrimSpace(title))
}

func (a *App) PauseRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Pause()
}

func (a *App) ResumeRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Resume()
}

// StopRecording ends the session and flushes notes.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	result, err := a.controller.Stop(a.ctx)
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return domain.StopResult{}, nil
	}
	return result, err
}

// ResetRecording returns a stopped or failed screen to idle.
func (a *App) ResetRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.DismissError()
	return a.controller.Reset()
}

func (a *App) RenameSession(title string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Rename(strings.TrimSpace(title))
}

func (a *App) UpdateNotes(body string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.EditNotes(body)
}

func (a *App) SaveNotes() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SaveNotes(a.ctx)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{
				Recording:  domain.RecordingStateError,
				Connection: domain.ConnectionStateDisconnected,
				Message:    a.bootErr.Error(),
			}
		}
		return domain.Status{Recording: domain.RecordingStateIdle, Connection: domain.ConnectionStateDisconnected}
	}
	return a.controller.Status()
}

func (a *App) GetTranscript() []domain.TranscriptItem {
	if a.controller == nil {
		return nil
	}
	return a.controller.Transcript()
}

// CopyTranscript puts the transcript on the clipboard as plain text.
func (a *App) CopyTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	text := formatTranscript(a.controller.Transcript())
	if text == "" {
		return errors.New("transcript is empty")
	}
	if err := a.clipboard(a.ctx, text); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	a.StatusMessage("Transcript copied to clipboard")
	return nil
}

func (a *App) ListTemplates() ([]backend.Template, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Backend.ListTemplates(a.ctx)
}

func (a *App) GetTemplate(id string) (backend.Template, error) {
	if err := a.requireReady(); err != nil {
		return backend.Template{}, err
	}
	return a.services.Backend.GetTemplate(a.ctx, id)
}

// GetCurrentError returns the displayed error, or nil.
func (a *App) GetCurrentError() *UIError {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.currentErr == nil {
		return nil
	}
	current := *a.currentErr
	return &current
}

func (a *App) DismissError() {
	a.errMu.Lock()
	a.currentErr = nil
	a.errMu.Unlock()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"apiBase":      a.cfg.Backend.APIBaseURL,
		"audioBackend": a.cfg.Audio.Backend,
		"audioInput":   a.cfg.Audio.InputDevice,
		"engineType":   a.cfg.Recording.EngineType,
		"dataDir":      a.cfg.Storage.DataDir,
		"archiveAudio": fmt.Sprintf("%t", a.cfg.Storage.ArchiveAudio),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// RecordingStateChanged emits recording lifecycle updates to the frontend.
func (a *App) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	a.send(eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

func (a *App) ConnectionStateChanged(state domain.ConnectionState) {
	a.send(eventConnection, map[string]string{"state": string(state)})
}

func (a *App) TranscriptUpdated(update domain.TranscriptUpdate) {
	a.send(eventTranscript, update)
}

func (a *App) StatusMessage(message string) {
	a.send(eventStatus, map[string]string{"message": message})
}

func (a *App) AudioLevel(level float64) {
	a.send(eventLevel, map[string]float64{"level": level})
}

func (a *App) ElapsedChanged(elapsed time.Duration) {
	a.send(eventElapsed, map[string]any{
		"seconds": elapsed.Seconds(),
		"label":   formatElapsed(elapsed),
	})
}

func (a *App) NotesSaved(noteID string, at time.Time) {
	a.send(eventSaved, map[string]string{
		"noteId":  noteID,
		"savedAt": at.UTC().Format(time.RFC3339),
	})
}

// SessionError replaces the current error and emits it to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	uiErr := UIError{Code: code, Message: errorMessage(code, detail), Detail: detail, At: time.Now()}
	a.errMu.Lock()
	a.currentErr = &uiErr
	a.errMu.Unlock()

	a.log.Error(fmt.Sprintf("app: %s: %s", code, detail))
	a.send(eventError, uiErr)
}

func (a *App) Navigate(route string) {
	a.send(eventNavigate, map[string]string{"route": route})
}

func (a *App) send(name string, payload any) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func stateReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.StateReasonMicReady:
		return "Microphone ready"
	case domain.StateReasonSessionCreating:
		return "Creating session..."
	case domain.StateReasonAwaitingServer:
		return "Waiting for the server to start recording"
	case domain.StateReasonRecordingStarted:
		return "Recording"
	case domain.StateReasonPaused:
		return "Paused"
	case domain.StateReasonResumed:
		return "Recording resumed"
	case domain.StateReasonStopped:
		return "Recording stopped"
	case domain.StateReasonStartFailed:
		return "Could not start recording"
	case domain.StateReasonTornDown:
		return "Recording closed"
	case domain.StateReasonReset:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeNoDevices:
		return "No microphone found"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioSetup:
		return "Audio setup failed"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeSession:
		return "Could not create session"
	case domain.ErrorCodeTimeout:
		return "Server did not respond in time"
	case domain.ErrorCodeDropped:
		return "Connection dropped"
	case domain.ErrorCodeTransport:
		return "Connection error"
	case domain.ErrorCodeConnectionLost:
		return "Connection lost"
	case domain.ErrorCodeServer:
		if detail != "" {
			return detail
		}
		return "Server error"
	case domain.ErrorCodePersistence:
		return "Notes could not be saved"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func formatElapsed(d time.Duration) string {
	total := int(d / time.Second)
	if total < 0 {
		total = 0
	}
	hours, minutes, seconds := total/3600, (total/60)%60, total%60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func formatTranscript(items []domain.TranscriptItem) string {
	lines := lo.FilterMap(items, func(item domain.TranscriptItem, _ int) (string, bool) {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			return "", false
		}
		stamp := item.Timestamp.Local().Format("15:04:05")
		if item.Speaker != "" {
			return fmt.Sprintf("[%s] %s: %s", stamp, item.Speaker, text), true
		}
		return fmt.Sprintf("[%s] %s", stamp, text), true
	})
	return strings.Join(lines, "\n")
}
