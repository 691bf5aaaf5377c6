package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/pcm"
	"livenotes/internal/ports"
	"livenotes/internal/protocol"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrSessionInProgress = errors.New("a recording session is already in progress")
	ErrStartAborted      = errors.New("recording start was cancelled")
)

const DefaultTickInterval = time.Second

// Config controls live recording behavior.
type Config struct {
	Audio            protocol.AudioConfig
	Token            string
	SilenceThreshold float64
	AutosaveInterval time.Duration
	TickInterval     time.Duration
}

// Deps are the collaborators of a SessionController. Store and Archives are
// optional.
type Deps struct {
	Microphone ports.Microphone
	API        ports.SessionAPI
	Channels   ports.ChannelFactory
	Store      ports.LocalStore
	Archives   ports.ArchiveFactory
	Events     ports.EventSink
	Log        logger.Logger
}

// SessionController runs the live recording screen: microphone, backend
// session, socket, transcript and notes for one meeting at a time.
type SessionController struct {
	mic       ports.Microphone
	api       ports.SessionAPI
	channels  ports.ChannelFactory
	store     ports.LocalStore
	archives  ports.ArchiveFactory
	events    ports.EventSink
	log       logger.Logger
	finalizer sessionFinalizer
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	state    domain.RecordingState
	attempt  uint64
	current  *activeSession
	last     *activeSession
	deviceID string
	awaiting bool
	message  string
}

func NewSessionController(deps Deps, cfg Config) *SessionController {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = pcm.SampleRate
	}
	if cfg.Audio.Format == "" {
		cfg.Audio.Format = "pcm"
	}
	if cfg.Audio.VoiceFormat == 0 {
		cfg.Audio.VoiceFormat = 1
	}
	if cfg.Audio.EngineType == "" {
		cfg.Audio.EngineType = "16k_en"
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = pcm.DefaultSilenceThreshold
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &SessionController{
		mic:       deps.Microphone,
		api:       deps.API,
		channels:  deps.Channels,
		store:     deps.Store,
		archives:  deps.Archives,
		events:    deps.Events,
		log:       deps.Log,
		finalizer: newSessionFinalizer(deps.Store, deps.Events, deps.Log),
		cfg:       cfg,
		now:       time.Now,
		state:     domain.RecordingStateIdle,
	}
}

// SelectDevice switches the microphone used by the next recording and opens
// it so the level meter runs before recording starts.
func (c *SessionController) SelectDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrSessionInProgress
	}
	c.deviceID = deviceID
	state := c.state
	c.mu.Unlock()

	if _, err := c.mic.AcquireStream(ctx, deviceID); err != nil {
		c.events.SessionError(codeFor(err, domain.ErrorCodeAudioSetup), err.Error())
		return err
	}
	c.events.RecordingStateChanged(state, domain.StateReasonMicReady)
	return nil
}

// Start creates a backend session, opens its channel and announces the audio
// format. It returns once start_recording is sent; audio flows only after the
// server acknowledges with recording_started.
func (c *SessionController) Start(ctx context.Context, title string) (domain.RecordingSession, error) {
	c.mu.Lock()
	if c.state != domain.RecordingStateIdle {
		state := c.state
		c.mu.Unlock()
		return domain.RecordingSession{}, fmt.Errorf("%w: state is %s", ErrSessionInProgress, state)
	}
	c.attempt++
	startCtx, cancel := context.WithCancel(ctx)
	active := newActiveSession(c.attempt, cancel, newElapsedTicker(c.cfg.TickInterval, c.events.ElapsedChanged))
	c.current = active
	c.last = active
	c.state = domain.RecordingStatePreparing
	c.awaiting = false
	c.message = ""
	deviceID := c.deviceID
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStatePreparing, domain.StateReasonSessionCreating)

	stream, err := c.acquireStream(startCtx, deviceID)
	if err != nil {
		return domain.RecordingSession{}, c.failStart(active, codeFor(err, domain.ErrorCodeAudioSetup), err)
	}
	if !c.attach(active, func() { active.stream = stream }) {
		if c.mic.ActiveStream() == stream {
			_ = c.mic.ReleaseStream()
		}
		return domain.RecordingSession{}, ErrStartAborted
	}

	session, err := c.api.CreateSession(startCtx, title)
	if err != nil {
		return domain.RecordingSession{}, c.failStart(active, domain.ErrorCodeSession, err)
	}
	notes := newAutosaveBridge(c.api, c.store, c.events, c.log,
		domain.NotesDocument{NoteID: session.NoteID, Title: session.Title}, c.cfg.AutosaveInterval)
	if !c.attach(active, func() { active.session = session; active.notes = notes }) {
		notes.Close()
		return domain.RecordingSession{}, ErrStartAborted
	}
	c.log.Info(fmt.Sprintf("session: created %s", session.ID))

	channel := c.channels.NewChannel()
	early := []func(){
		channel.Subscribe(protocol.TypeConnectionPending, c.onPending(active)),
		channel.Subscribe(protocol.TypeStatusUpdate, c.onStatus(active)),
	}
	if !c.attach(active, func() { active.channel = channel; active.unsubscribe = early }) {
		unsubscribeAll(early)
		return domain.RecordingSession{}, ErrStartAborted
	}

	c.events.ConnectionStateChanged(domain.ConnectionStateConnecting)
	if err := channel.Connect(startCtx, session.ID, c.cfg.Token); err != nil {
		return domain.RecordingSession{}, c.failStart(active, codeFor(err, domain.ErrorCodeTransport), err)
	}

	archive := c.openArchive(session.ID)
	late := []func(){
		channel.Subscribe(protocol.TypeRecordingStarted, c.onAck(active)),
		channel.Subscribe(protocol.TypeRecordingResumed, c.onAck(active)),
		channel.Subscribe(protocol.TypeRecordingPaused, c.onLifecycle(active)),
		channel.Subscribe(protocol.TypeRecordingStopped, c.onLifecycle(active)),
		channel.Subscribe(protocol.TypeTranscriptPartial, c.onTranscript(active, false)),
		channel.Subscribe(protocol.TypeTranscriptFinal, c.onTranscript(active, true)),
		channel.Subscribe(protocol.TypeError, c.onServerError(active)),
		channel.Subscribe(protocol.TypeDisconnected, c.onDisconnected(active)),
	}

	// The pump starts before start_recording goes out so an immediate ack
	// finds capture already running. The gate stays shut until that ack.
	started := c.attach(active, func() {
		active.unsubscribe = append(active.unsubscribe, late...)
		active.archive = archive
		active.startSent = true
		active.gate.SetCapture(true)
		active.pumpDone = make(chan struct{})
		framer := pcm.NewFramer(pcm.FrameSamples, c.cfg.SilenceThreshold)
		go pumpAudioFrames(stream, framer, &active.gate, channel, archive, c.events, c.log, active.pumpDone)
		c.awaiting = true
	})
	if !started {
		unsubscribeAll(late)
		channel.Disconnect()
		if archive != nil {
			_ = archive.Close()
		}
		return domain.RecordingSession{}, ErrStartAborted
	}

	c.events.ConnectionStateChanged(domain.ConnectionStateConnected)
	c.events.RecordingStateChanged(domain.RecordingStatePreparing, domain.StateReasonAwaitingServer)

	if err := channel.StartRecording(c.cfg.Audio); err != nil {
		return domain.RecordingSession{}, c.failStart(active, domain.ErrorCodeTransport, err)
	}
	return session, nil
}

// Pause stops frames from leaving the client and tells the server. It is a
// no-op unless recording.
func (c *SessionController) Pause() error {
	c.mu.Lock()
	active := c.current
	if active == nil || active.stopping || c.state != domain.RecordingStateRecording {
		c.mu.Unlock()
		return nil
	}
	active.gate.Close()
	active.ticker.Stop()
	c.state = domain.RecordingStatePaused
	channel := active.channel
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStatePaused, domain.StateReasonPaused)
	if err := channel.PauseRecording(); err != nil {
		c.events.SessionError(domain.ErrorCodeTransport, fmt.Sprintf("failed to pause: %v", err))
		return err
	}
	return nil
}

// Resume re-enables capture. Frames flow again only after the server
// acknowledges with recording_started or recording_resumed.
func (c *SessionController) Resume() error {
	c.mu.Lock()
	active := c.current
	if active == nil || active.stopping || c.state != domain.RecordingStatePaused {
		c.mu.Unlock()
		return nil
	}
	active.gate.SetAck(false)
	active.gate.SetCapture(true)
	active.ticker.Start()
	c.state = domain.RecordingStateRecording
	channel := active.channel
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStateRecording, domain.StateReasonResumed)
	if err := channel.ResumeRecording(); err != nil {
		c.events.SessionError(domain.ErrorCodeTransport, fmt.Sprintf("failed to resume: %v", err))
		return err
	}
	return nil
}

// Stop ends the session: capture halts, stop_recording is sent if recording
// was ever started, the channel closes and notes are flushed. Calling it again
// returns the first result.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	c.mu.Lock()
	active := c.current
	if active == nil {
		if c.state == domain.RecordingStateStopped && c.last != nil {
			result := c.last.result
			c.mu.Unlock()
			return result, nil
		}
		c.mu.Unlock()
		return domain.StopResult{}, ErrNoActiveSession
	}
	if active.stopping {
		c.mu.Unlock()
		<-active.stopDone
		return active.result, nil
	}
	active.stopping = true
	active.gate.Close()
	active.ticker.Stop()
	c.attempt++
	c.awaiting = false
	c.mu.Unlock()

	c.release(active, true)
	result := c.finalizer.Finalize(ctx, active)

	c.mu.Lock()
	active.result = result
	if c.current == active {
		c.current = nil
	}
	c.state = domain.RecordingStateStopped
	c.mu.Unlock()
	close(active.stopDone)

	c.log.Info(fmt.Sprintf("session: stopped %s with %d segments", result.SessionID, result.Segments))
	c.events.RecordingStateChanged(domain.RecordingStateStopped, domain.StateReasonStopped)
	if result.Route != "" {
		c.events.Navigate(result.Route)
	}
	return result, nil
}

// Teardown releases the microphone, audio pipeline and channel without
// sending stop_recording. Safe to call at any time, any number of times.
func (c *SessionController) Teardown() {
	c.mu.Lock()
	active := c.current
	stopping := false
	if active != nil {
		stopping = active.stopping
		active.tornDown = true
		active.gate.Close()
		active.ticker.Stop()
		if !stopping {
			c.attempt++
			c.current = nil
			c.state = domain.RecordingStateIdle
			c.awaiting = false
		}
	}
	c.mu.Unlock()

	if active != nil {
		c.release(active, false)
		if active.notes != nil {
			active.notes.Close()
		}
	}
	if err := c.mic.ReleaseStream(); err != nil {
		c.log.Warning(fmt.Sprintf("session: release microphone: %v", err))
	}
	if active != nil && !stopping {
		c.log.Info("session: torn down")
		c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.StateReasonTornDown)
	}
}

// Reset leaves a stopped or failed session so a new one can start.
func (c *SessionController) Reset() error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrSessionInProgress
	}
	if !c.state.Terminal() {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.RecordingStateIdle
	c.last = nil
	c.awaiting = false
	c.message = ""
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.StateReasonReset)
	return nil
}

func (c *SessionController) Rename(title string) error {
	c.mu.Lock()
	active := c.current
	if active == nil || active.notes == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	active.session.Title = title
	notes := active.notes
	c.mu.Unlock()

	return notes.Rename(title)
}

func (c *SessionController) EditNotes(body string) error {
	notes, err := c.activeNotes()
	if err != nil {
		return err
	}
	return notes.Edit(body)
}

// SaveNotes flushes the notes immediately, bypassing the autosave timer.
func (c *SessionController) SaveNotes(ctx context.Context) error {
	notes, err := c.activeNotes()
	if err != nil {
		return err
	}
	return notes.Flush(ctx)
}

// Transcript returns the transcript of the current or most recent session.
func (c *SessionController) Transcript() []domain.TranscriptItem {
	c.mu.Lock()
	session := c.last
	c.mu.Unlock()
	if session == nil {
		return []domain.TranscriptItem{}
	}
	return session.aggregator.Snapshot()
}

func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	status := domain.Status{
		Recording:      c.state,
		Connection:     domain.ConnectionStateDisconnected,
		AwaitingServer: c.awaiting,
		Message:        c.message,
		DeviceID:       c.deviceID,
	}
	var notes *autosaveBridge
	if session := c.last; session != nil {
		status.SessionID = session.session.ID
		status.NoteID = session.session.NoteID
		status.Title = session.session.Title
		status.ElapsedSeconds = session.ticker.Elapsed().Seconds()
		status.TranscriptCount = session.aggregator.Len()
		notes = session.notes
	}
	if active := c.current; active != nil {
		if active.channel != nil {
			status.Connection = active.channel.State()
		}
		status.AudioFlowing = active.gate.Open()
	}
	c.mu.Unlock()

	if notes != nil {
		status.Title = notes.Document().Title
		status.UnsavedNotes = notes.Dirty()
	}
	if status.DeviceID == "" {
		if stream := c.mic.ActiveStream(); stream != nil {
			status.DeviceID = stream.DeviceID()
		}
	}
	return status
}

func (c *SessionController) onAck(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.StatusData
		_ = msg.Bind(&data)

		c.mu.Lock()
		if c.current != active || active.stopping {
			c.mu.Unlock()
			return
		}
		started := false
		switch c.state {
		case domain.RecordingStatePreparing:
			active.gate.SetAck(true)
			active.ticker.Start()
			c.state = domain.RecordingStateRecording
			started = true
		case domain.RecordingStateRecording:
			active.gate.SetAck(true)
		default:
			state := c.state
			c.mu.Unlock()
			c.log.Debug(fmt.Sprintf("session: ignoring %s while %s", msg.Type, state))
			return
		}
		c.awaiting = false
		if data.Message != "" {
			c.message = data.Message
		}
		c.mu.Unlock()

		c.log.Info(fmt.Sprintf("session: server acknowledged with %s", msg.Type))
		if started {
			c.events.RecordingStateChanged(domain.RecordingStateRecording, domain.StateReasonRecordingStarted)
		}
		if data.Message != "" {
			c.events.StatusMessage(data.Message)
		}
	}
}

// onPending handles connection_pending. It only reports that the server is
// waiting for upstream capacity and never acknowledges recording.
func (c *SessionController) onPending(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.StatusData
		_ = msg.Bind(&data)
		if data.Message == "" {
			data.Message = "waiting for the transcription service"
		}

		c.mu.Lock()
		if c.current != active {
			c.mu.Unlock()
			return
		}
		c.awaiting = true
		c.message = data.Message
		c.mu.Unlock()

		c.events.StatusMessage(data.Message)
	}
}

func (c *SessionController) onStatus(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.StatusData
		if err := msg.Bind(&data); err != nil {
			c.log.Warning(fmt.Sprintf("session: %v", err))
			return
		}

		c.mu.Lock()
		if c.current != active {
			c.mu.Unlock()
			return
		}
		switch {
		case data.DelayedConnection:
			c.awaiting = true
		case data.ImmediateConnection:
			c.awaiting = false
		}
		if data.Message != "" {
			c.message = data.Message
		}
		c.mu.Unlock()

		if data.Message != "" {
			c.events.StatusMessage(data.Message)
		}
	}
}

func (c *SessionController) onLifecycle(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.StatusData
		_ = msg.Bind(&data)
		c.log.Debug(fmt.Sprintf("session: server reported %s", msg.Type))

		c.mu.Lock()
		current := c.current == active
		if current && data.Message != "" {
			c.message = data.Message
		}
		c.mu.Unlock()

		if current && data.Message != "" {
			c.events.StatusMessage(data.Message)
		}
	}
}

func (c *SessionController) onTranscript(active *activeSession, final bool) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.TranscriptData
		if err := msg.Bind(&data); err != nil {
			c.log.Warning(fmt.Sprintf("session: %v", err))
			return
		}

		c.mu.Lock()
		current := c.current == active
		c.mu.Unlock()
		if !current {
			return
		}

		c.events.TranscriptUpdated(active.aggregator.Apply(data, final, c.now()))
	}
}

// onServerError reports a server error. The session keeps running.
func (c *SessionController) onServerError(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		serverErr := protocol.DecodeError(msg)

		c.mu.Lock()
		current := c.current == active
		if current {
			c.message = serverErr.Message
		}
		c.mu.Unlock()
		if !current {
			return
		}

		c.log.Warning(fmt.Sprintf("session: %v", serverErr))
		c.events.SessionError(domain.ErrorCodeServer, serverErr.Error())
	}
}

// onDisconnected handles a socket drop after the handshake. The recording
// state is kept; no more frames flow until a new acknowledgement.
func (c *SessionController) onDisconnected(active *activeSession) ports.Listener {
	return func(msg protocol.Envelope) {
		var data protocol.DisconnectedData
		_ = msg.Bind(&data)

		c.mu.Lock()
		if c.current != active || active.stopping {
			c.mu.Unlock()
			return
		}
		active.gate.SetAck(false)
		channel := active.channel
		c.mu.Unlock()

		c.log.Error(fmt.Sprintf("session: connection lost: %s", data.Reason))
		c.events.ConnectionStateChanged(channel.State())
		c.events.SessionError(domain.ErrorCodeConnectionLost, fmt.Sprintf("connection lost: %s", data.Reason))
	}
}

// failStart moves a start attempt that is still current to the error state
// and releases what it acquired. A superseded attempt is left to whoever
// superseded it.
func (c *SessionController) failStart(active *activeSession, code domain.ErrorCode, err error) error {
	c.mu.Lock()
	if c.current != active || active.stopping || active.tornDown {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrStartAborted, err)
	}
	active.stopping = true
	active.gate.Close()
	active.ticker.Stop()
	c.attempt++
	c.current = nil
	c.state = domain.RecordingStateError
	c.awaiting = false
	c.mu.Unlock()

	c.release(active, false)
	if active.notes != nil {
		active.notes.Close()
	}
	close(active.stopDone)

	c.log.Error(fmt.Sprintf("session: start failed: %v", err))
	c.events.SessionError(code, err.Error())
	c.events.RecordingStateChanged(domain.RecordingStateError, domain.StateReasonStartFailed)
	return err
}

// release tears down the capture stream, pump, channel and archive of one
// session exactly once.
func (c *SessionController) release(active *activeSession, sendStop bool) {
	active.releaseOnce.Do(func() {
		active.cancel()

		if active.stream != nil && c.mic.ActiveStream() == active.stream {
			if err := c.mic.ReleaseStream(); err != nil {
				c.log.Warning(fmt.Sprintf("session: release microphone: %v", err))
			}
		}
		if active.pumpDone != nil {
			<-active.pumpDone
		}

		if active.channel != nil {
			if sendStop && active.startSent {
				if err := active.channel.StopRecording(); err != nil {
					c.log.Warning(fmt.Sprintf("session: stop_recording not delivered: %v", err))
				}
			}
			unsubscribeAll(active.unsubscribe)
			active.channel.Disconnect()
			c.events.ConnectionStateChanged(domain.ConnectionStateDisconnected)
		}

		if active.archive != nil {
			if err := active.archive.Close(); err != nil {
				c.log.Warning(fmt.Sprintf("session: close archive: %v", err))
			}
		}
	})
}

// attach runs fn under the lock if active is still the live attempt.
func (c *SessionController) attach(active *activeSession, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active || active.stopping || active.tornDown {
		return false
	}
	fn()
	return true
}

func (c *SessionController) acquireStream(ctx context.Context, deviceID string) (ports.CaptureStream, error) {
	if stream := c.mic.ActiveStream(); stream != nil && (deviceID == "" || stream.DeviceID() == deviceID) {
		return stream, nil
	}
	return c.mic.AcquireStream(ctx, deviceID)
}

func (c *SessionController) openArchive(sessionID string) ports.FrameArchive {
	if c.archives == nil {
		return nil
	}
	archive, err := c.archives.OpenArchive(sessionID)
	if err != nil {
		c.log.Warning(fmt.Sprintf("session: audio archive unavailable: %v", err))
		return nil
	}
	return archive
}

func (c *SessionController) activeNotes() (*autosaveBridge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.notes == nil {
		return nil, ErrNoActiveSession
	}
	return c.current.notes, nil
}

func unsubscribeAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func codeFor(err error, fallback domain.ErrorCode) domain.ErrorCode {
	code := domain.Classify(err)
	if code == domain.ErrorCodeSession || code == "" {
		return fallback
	}
	return code
}
