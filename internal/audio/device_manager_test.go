package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

func TestListInputDevicesNoDevices(t *testing.T) {
	t.Parallel()

	manager := NewDeviceManager(&fakeBackend{devices: []domain.InputDevice{{ID: " "}}}, ports.AudioConfig{}, nil, nopLogger{})
	_, err := manager.ListInputDevices(context.Background())
	if !errors.Is(err, domain.ErrNoDevicesFound) {
		t.Fatalf("expected ErrNoDevicesFound, got %v", err)
	}
}

func TestListInputDevicesWrapsBackendError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{devicesErr: domain.ErrDeviceUnavailable}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, nil, nopLogger{})
	_, err := manager.ListInputDevices(context.Background())
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestAcquireStreamRequestsFixedConstraints(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := NewDeviceManager(backend, ports.AudioConfig{SampleRate: 48000, Channels: 2, InputDevice: "default"}, nil, nopLogger{})

	stream, err := manager.AcquireStream(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer manager.ReleaseStream()

	cfg := backend.lastConfig()
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Fatalf("expected mono 16 kHz, got %+v", cfg)
	}
	if !cfg.EchoCancellation || !cfg.NoiseSuppression || !cfg.AutoGainControl {
		t.Fatalf("expected processing constraints enabled, got %+v", cfg)
	}
	if stream.DeviceID() != "default" {
		t.Fatalf("unexpected device id: %q", stream.DeviceID())
	}
}

func TestAcquireStreamReleasesBeforeOpeningNext(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, nil, nopLogger{})

	if _, err := manager.AcquireStream(context.Background(), "mic-a"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := manager.AcquireStream(context.Background(), "mic-b"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if err := manager.ReleaseStream(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	want := []string{"open:mic-a", "stop:mic-a", "open:mic-b", "stop:mic-b"}
	got := backend.snapshotCalls()
	if len(got) != len(want) {
		t.Fatalf("unexpected call log: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected call log: %v", got)
		}
	}
}

func TestAcquireStreamFailureKeepsNoStream(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, nil, nopLogger{})
	if _, err := manager.AcquireStream(context.Background(), "mic-a"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	backend.setOpenErr(domain.ErrDeviceUnavailable)
	_, err := manager.AcquireStream(context.Background(), "mic-b")
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}
	if manager.ActiveStream() != nil {
		t.Fatalf("expected no active stream after failed switch")
	}
	if got := backend.snapshotCalls(); got[len(got)-1] != "stop:mic-a" {
		t.Fatalf("expected previous stream stopped, got %v", got)
	}
}

func TestAcquireStreamPermissionDenied(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{permission: domain.PermissionDenied}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, nil, nopLogger{})
	_, err := manager.AcquireStream(context.Background(), "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(backend.snapshotCalls()) != 0 {
		t.Fatalf("expected no open attempt")
	}
	if manager.CheckPermission(context.Background()) != domain.PermissionDenied {
		t.Fatalf("expected denied permission state")
	}
}

func TestReleaseStreamIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, nil, nopLogger{})
	if err := manager.ReleaseStream(); err != nil {
		t.Fatalf("release without stream failed: %v", err)
	}
	if _, err := manager.AcquireStream(context.Background(), "mic"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := manager.ReleaseStream(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := manager.ReleaseStream(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	if got := backend.snapshotCalls(); len(got) != 2 {
		t.Fatalf("expected a single stop, got %v", got)
	}
}

func TestStreamDeliversSamplesAndMeterStopsOnRelease(t *testing.T) {
	t.Parallel()

	levels := make(chan float64, 256)
	backend := &fakeBackend{blocks: [][]float32{{0.5, -0.5, 0.5, -0.5}}}
	manager := NewDeviceManager(backend, ports.AudioConfig{}, func(level float64) {
		select {
		case levels <- level:
		default:
		}
	}, nopLogger{})
	manager.meterInterval = time.Millisecond

	stream, err := manager.AcquireStream(context.Background(), "mic")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	buf := make([]float32, 2)
	n, err := stream.Read(buf)
	if err != nil || n != 2 || buf[0] != 0.5 || buf[1] != -0.5 {
		t.Fatalf("unexpected read: n=%d err=%v buf=%v", n, err, buf)
	}

	deadline := time.After(2 * time.Second)
	for metered := false; !metered; {
		select {
		case level := <-levels:
			metered = level == 0.5
		case <-deadline:
			t.Fatalf("meter never reported the block level")
		}
	}

	if err := manager.ReleaseStream(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if stream.Level() != 0 {
		t.Fatalf("expected level reset on release")
	}

	for {
		if _, err := stream.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected EOF after release, got %v", err)
			}
			break
		}
	}

	for len(levels) > 0 {
		<-levels
	}
	time.Sleep(10 * time.Millisecond)
	if len(levels) != 0 {
		t.Fatalf("meter kept ticking after release")
	}
}

func TestStreamKeepsEveryBlockOnceConsumed(t *testing.T) {
	t.Parallel()

	const blocks = 100
	session := newSteppedSession(blocks, streamBlockSize)
	stream := newStream("mic", session, func(float64) {}, time.Hour, nopLogger{})
	defer stream.close()

	buf := make([]float32, streamBlockSize)
	if _, err := stream.Read(buf[:0]); err != nil {
		t.Fatalf("attach read failed: %v", err)
	}
	close(session.start)
	// Stall well past the backlog before draining.
	time.Sleep(100 * time.Millisecond)

	received := 0
	for received < blocks*streamBlockSize {
		n, err := stream.Read(buf)
		if err != nil {
			t.Fatalf("read failed after %d samples: %v", received, err)
		}
		for _, sample := range buf[:n] {
			if want := float32(received / streamBlockSize); sample != want {
				t.Fatalf("sample %d out of order: got %v want %v", received, sample, want)
			}
			received++
		}
	}
	if stream.Dropped() != 0 {
		t.Fatalf("expected no dropped blocks, got %d", stream.Dropped())
	}
}

func TestStreamPreviewKeepsNewestBlocks(t *testing.T) {
	t.Parallel()

	const blocks = streamBacklog + 8
	session := newSteppedSession(blocks, 4)
	stream := newStream("mic", session, func(float64) {}, time.Hour, nopLogger{})
	defer stream.close()

	close(session.start)
	select {
	case <-session.drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("session was never drained")
	}

	if got := stream.Dropped(); got != 8 {
		t.Fatalf("expected 8 dropped preview blocks, got %d", got)
	}
	buf := make([]float32, 4)
	if n, err := stream.Read(buf); err != nil || n != 4 || buf[0] != 8 {
		t.Fatalf("expected oldest kept block 8, got n=%d err=%v buf=%v", n, err, buf)
	}
}

// steppedSession yields count blocks whose samples equal the block index,
// once start is closed, then blocks until stopped.
type steppedSession struct {
	start   chan struct{}
	drained chan struct{}
	stop    chan struct{}
	count   int
	size    int
	next    int
	once    sync.Once
}

func newSteppedSession(count int, size int) *steppedSession {
	return &steppedSession{
		start:   make(chan struct{}),
		drained: make(chan struct{}),
		stop:    make(chan struct{}),
		count:   count,
		size:    size,
	}
}

func (s *steppedSession) Read(p []float32) (int, error) {
	select {
	case <-s.start:
	case <-s.stop:
		return 0, io.EOF
	}
	if s.next == s.count {
		close(s.drained)
		<-s.stop
		return 0, io.EOF
	}
	n := min(len(p), s.size)
	for i := range p[:n] {
		p[i] = float32(s.next)
	}
	s.next++
	return n, nil
}

func (s *steppedSession) Stop() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

type fakeBackend struct {
	mu         sync.Mutex
	devices    []domain.InputDevice
	devicesErr error
	permission domain.PermissionState
	openErr    error
	blocks     [][]float32
	calls      []string
	configs    []ports.AudioConfig
}

func (f *fakeBackend) Devices(_ context.Context) ([]domain.InputDevice, error) {
	return f.devices, f.devicesErr
}

func (f *fakeBackend) Permission(_ context.Context) domain.PermissionState {
	if f.permission == "" {
		return domain.PermissionGranted
	}
	return f.permission
}

func (f *fakeBackend) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.calls = append(f.calls, "open:"+cfg.InputDevice)
	f.configs = append(f.configs, cfg)
	return newFakeSession(f, cfg.InputDevice, f.blocks), nil
}

func (f *fakeBackend) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) snapshotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) lastConfig() ports.AudioConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

type fakeSession struct {
	backend *fakeBackend
	device  string
	blocks  chan []float32
	stop    chan struct{}
	once    sync.Once
}

func newFakeSession(backend *fakeBackend, device string, blocks [][]float32) *fakeSession {
	s := &fakeSession{
		backend: backend,
		device:  device,
		blocks:  make(chan []float32, len(blocks)),
		stop:    make(chan struct{}),
	}
	for _, block := range blocks {
		s.blocks <- block
	}
	return s
}

func (s *fakeSession) Read(p []float32) (int, error) {
	select {
	case block := <-s.blocks:
		return copy(p, block), nil
	case <-s.stop:
		return 0, io.EOF
	}
}

func (s *fakeSession) Stop() error {
	s.once.Do(func() {
		s.backend.record("stop:" + s.device)
		close(s.stop)
	})
	return nil
}

type nopLogger struct{}

func (nopLogger) Print(string)   {}
func (nopLogger) Trace(string)   {}
func (nopLogger) Debug(string)   {}
func (nopLogger) Info(string)    {}
func (nopLogger) Warning(string) {}
func (nopLogger) Error(string)   {}
func (nopLogger) Fatal(string)   {}

var _ logger.Logger = nopLogger{}
