package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/pcm"
	"livenotes/internal/ports"
)

const (
	defaultMeterInterval = 16 * time.Millisecond
	streamBlockSize      = 1024
	streamBacklog        = 32
	dropLogInterval      = 5 * time.Second
)

// DeviceManager owns at most one capture stream at a time.
type DeviceManager struct {
	backend ports.AudioBackend
	cfg     ports.AudioConfig
	onLevel func(float64)
	log     logger.Logger

	meterInterval time.Duration

	mu      sync.Mutex
	current *Stream
}

// NewDeviceManager captures mono 16 kHz audio with echo cancellation, noise
// suppression and gain control requested from the backend.
func NewDeviceManager(backend ports.AudioBackend, cfg ports.AudioConfig, onLevel func(float64), log logger.Logger) *DeviceManager {
	cfg.SampleRate = pcm.SampleRate
	cfg.Channels = pcm.Channels
	cfg.EchoCancellation = true
	cfg.NoiseSuppression = true
	cfg.AutoGainControl = true
	if onLevel == nil {
		onLevel = func(float64) {}
	}
	return &DeviceManager{
		backend:       backend,
		cfg:           cfg,
		onLevel:       onLevel,
		log:           log,
		meterInterval: defaultMeterInterval,
	}
}

// ListInputDevices returns the available inputs, or ErrNoDevicesFound.
func (m *DeviceManager) ListInputDevices(ctx context.Context) ([]domain.InputDevice, error) {
	devices, err := m.backend.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	devices = lo.Filter(devices, func(d domain.InputDevice, _ int) bool {
		return strings.TrimSpace(d.ID) != ""
	})
	if len(devices) == 0 {
		return nil, domain.ErrNoDevicesFound
	}
	return devices, nil
}

// CheckPermission reports the backend's permission state. Unsupported means
// the caller should attempt acquisition directly.
func (m *DeviceManager) CheckPermission(ctx context.Context) domain.PermissionState {
	return m.backend.Permission(ctx)
}

// AcquireStream releases any held stream, then opens deviceID (or the
// configured default).
func (m *DeviceManager) AcquireStream(ctx context.Context, deviceID string) (ports.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.close(); err != nil {
			m.log.Warning(fmt.Sprintf("audio: stopping previous stream: %v", err))
		}
		m.current = nil
	}

	if m.backend.Permission(ctx) == domain.PermissionDenied {
		return nil, domain.ErrPermissionDenied
	}

	cfg := m.cfg
	if strings.TrimSpace(deviceID) != "" {
		cfg.InputDevice = deviceID
	}

	session, err := m.backend.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", cfg.InputDevice, err)
	}

	stream := newStream(cfg.InputDevice, session, m.onLevel, m.meterInterval, m.log)
	m.current = stream
	m.log.Info(fmt.Sprintf("audio: capturing from %q", cfg.InputDevice))
	return stream, nil
}

// ActiveStream returns the held stream, if any.
func (m *DeviceManager) ActiveStream() ports.CaptureStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current
}

// ReleaseStream stops the held stream. Idempotent.
func (m *DeviceManager) ReleaseStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.close()
	m.current = nil
	return err
}

// Stream is one open capture session plus its level meter. A reader
// goroutine drains the backend so the meter runs even when nobody consumes
// samples. Until the first Read the backlog keeps only the newest blocks;
// after that the reader waits for the consumer and nothing is dropped.
type Stream struct {
	deviceID string
	session  ports.AudioSession
	log      logger.Logger

	blocks   chan []float32
	pending  []float32
	readErr  error
	stopped  atomic.Bool
	consumed atomic.Bool
	dropped  atomic.Uint64
	level    atomic.Uint64

	cancelMeter context.CancelFunc
	done        chan struct{}
	readerDone  chan struct{}
	meterDone   chan struct{}
	onLevel     func(float64)

	closeOnce sync.Once
	closeErr  error
}

func newStream(deviceID string, session ports.AudioSession, onLevel func(float64), meterInterval time.Duration, log logger.Logger) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		deviceID:    deviceID,
		session:     session,
		log:         log,
		blocks:      make(chan []float32, streamBacklog),
		cancelMeter: cancel,
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
		meterDone:   make(chan struct{}),
		onLevel:     onLevel,
	}
	go s.readLoop()
	go s.meterLoop(ctx, meterInterval)
	return s
}

func (s *Stream) DeviceID() string { return s.deviceID }

// Level is the RMS of the most recent block, in [0, 1].
func (s *Stream) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Read hands out captured samples in capture order. It returns io.EOF once
// the stream is released. Single consumer.
func (s *Stream) Read(p []float32) (int, error) {
	s.consumed.Store(true)
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.pending) == 0 {
		block, ok := <-s.blocks
		if !ok {
			return 0, s.endErr()
		}
		s.pending = block
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Dropped counts blocks discarded while nobody was reading.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Stream) endErr() error {
	if s.stopped.Load() || s.readErr == nil || errors.Is(s.readErr, io.EOF) {
		return io.EOF
	}
	return s.readErr
}

func (s *Stream) readLoop() {
	defer close(s.readerDone)
	defer close(s.blocks)

	var lastDropLog time.Time
	buf := make([]float32, streamBlockSize)
	for {
		n, err := s.session.Read(buf)
		if n > 0 {
			block := append([]float32(nil), buf[:n]...)
			s.level.Store(math.Float64bits(pcm.Level(block)))
			if !s.deliver(block) {
				return
			}
			if dropped := s.dropped.Load(); dropped > 0 && time.Since(lastDropLog) >= dropLogInterval {
				lastDropLog = time.Now()
				s.log.Debug(fmt.Sprintf("audio: %d preview block(s) discarded on %q", dropped, s.deviceID))
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

// deliver queues block for Read. It returns false once the stream is closing.
func (s *Stream) deliver(block []float32) bool {
	if s.consumed.Load() {
		select {
		case s.blocks <- block:
			return true
		case <-s.done:
			return false
		}
	}

	select {
	case s.blocks <- block:
		return true
	default:
	}
	// Preview only: evict the oldest block so the backlog stays recent.
	select {
	case <-s.blocks:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.blocks <- block:
	default:
		s.dropped.Add(1)
	}
	return true
}

func (s *Stream) meterLoop(ctx context.Context, interval time.Duration) {
	defer close(s.meterDone)
	if interval <= 0 {
		interval = defaultMeterInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.onLevel(s.Level())
		}
	}
}

func (s *Stream) close() error {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		close(s.done)
		s.cancelMeter()
		<-s.meterDone
		s.closeErr = s.session.Stop()
		<-s.readerDone
		s.level.Store(0)
		s.onLevel(0)
	})
	return s.closeErr
}
