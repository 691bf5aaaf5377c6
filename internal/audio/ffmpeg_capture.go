package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

// FFMPEGCapture streams microphone samples as float32 little-endian using ffmpeg.
type FFMPEGCapture struct {
	command     string
	inputFormat string
}

func NewFFMPEGCapture(command string, inputFormat string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	return &FFMPEGCapture{command: command, inputFormat: inputFormat}
}

// Devices lists capture sources reported by `ffmpeg -sources`. Monitor
// sources of output sinks are skipped.
func (c *FFMPEGCapture) Devices(ctx context.Context) ([]domain.InputDevice, error) {
	cmd := exec.CommandContext(ctx, c.command, "-hide_banner", "-sources", c.inputFormat)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg -sources %s: %w: %s", domain.ErrDeviceUnavailable, c.inputFormat, err, stringsTrimSpaceSafe(stderr.String()))
	}

	devices := parseSources(stdout.String())
	return lo.Filter(devices, func(d domain.InputDevice, _ int) bool {
		return !strings.HasSuffix(d.ID, ".monitor")
	}), nil
}

// Permission is not observable through ffmpeg; callers acquire directly.
func (c *FFMPEGCapture) Permission(_ context.Context) domain.PermissionState {
	return domain.PermissionUnsupported
}

func (c *FFMPEGCapture) Open(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = c.inputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
	}
	if filters := captureFilters(cfg); filters != "" {
		args = append(args, "-af", filters)
	}
	args = append(args, "-f", "f32le", "-")

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %w", domain.ErrAudioSetup, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %w", domain.ErrAudioSetup, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %w: %s", classifyCaptureFailure(detail), err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", classifyCaptureFailure(detail))
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// captureFilters maps browser-style capture constraints onto ffmpeg filters.
// Echo cancellation needs a playback reference ffmpeg does not have, so it is
// left to the input source (e.g. a PulseAudio echo-cancel source).
func captureFilters(cfg ports.AudioConfig) string {
	var filters []string
	if cfg.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if cfg.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

func classifyCaptureFailure(stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return domain.ErrPermissionDenied
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"), strings.Contains(lower, "connection refused"):
		return domain.ErrDeviceUnavailable
	default:
		return domain.ErrAudioSetup
	}
}

func parseSources(output string) []domain.InputDevice {
	var devices []domain.InputDevice
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}

		isDefault := strings.HasPrefix(line, "*")
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))

		id, label := line, line
		if open := strings.Index(line, " ["); open > 0 && strings.HasSuffix(line, "]") {
			id = strings.TrimSpace(line[:open])
			label = line[open+2 : len(line)-1]
		}
		devices = append(devices, domain.InputDevice{ID: id, Label: label, Default: isDefault})
	}
	return devices
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	raw   []byte
	carry []byte

	stopOnce sync.Once
	stopErr  error
}

// Read decodes whole float32 samples; a trailing partial sample is carried
// into the next call.
func (s *ffmpegSession) Read(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	need := len(p) * 4
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	buf := s.raw[:need]

	copied := copy(buf, s.carry)
	s.carry = s.carry[:0]

	n, err := s.stdout.Read(buf[copied:])
	total := copied + n
	whole := total / 4
	for i := 0; i < whole; i++ {
		p[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	s.carry = append(s.carry, buf[whole*4:total]...)
	return whole, err
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
