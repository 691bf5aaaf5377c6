package usecase

import (
	"context"
	"sync"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

// emissionGate decides whether captured frames may leave the client. Both the
// local capture flag and the server acknowledgement must be set. Emit holds
// the read lock across the send, so Close returns only after an in-flight
// frame is on the wire and nothing can follow it.
type emissionGate struct {
	mu            sync.RWMutex
	captureActive bool
	serverAck     bool
}

func (g *emissionGate) Open() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.captureActive && g.serverAck
}

func (g *emissionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureActive = false
	g.serverAck = false
}

func (g *emissionGate) SetCapture(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureActive = active
}

func (g *emissionGate) SetAck(ack bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serverAck = ack
}

// Emit runs send only while the gate is open and reports whether it ran.
func (g *emissionGate) Emit(send func() error) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.captureActive || !g.serverAck {
		return false, nil
	}
	return true, send()
}

// activeSession holds everything one recording attempt owns. Fields other than
// the gate are guarded by SessionController.mu.
type activeSession struct {
	attempt uint64
	cancel  context.CancelFunc

	session    domain.RecordingSession
	stream     ports.CaptureStream
	channel    ports.Channel
	archive    ports.FrameArchive
	notes      *autosaveBridge
	aggregator *transcriptAggregator
	ticker     *elapsedTicker
	gate       emissionGate

	unsubscribe []func()
	pumpDone    chan struct{}
	startSent   bool

	stopping    bool
	tornDown    bool
	stopDone    chan struct{}
	result      domain.StopResult
	releaseOnce sync.Once
}

func newActiveSession(attempt uint64, cancel context.CancelFunc, ticker *elapsedTicker) *activeSession {
	return &activeSession{
		attempt:    attempt,
		cancel:     cancel,
		aggregator: newTranscriptAggregator(),
		ticker:     ticker,
		stopDone:   make(chan struct{}),
	}
}
