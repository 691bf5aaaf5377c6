package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"livenotes/internal/pcm"
	"livenotes/internal/ports"
)

// WAVArchiveFactory writes one WAV file per session under dir.
type WAVArchiveFactory struct {
	dir string
}

func NewWAVArchiveFactory(dir string) *WAVArchiveFactory {
	return &WAVArchiveFactory{dir: dir}
}

func (f *WAVArchiveFactory) OpenArchive(sessionID string) (ports.FrameArchive, error) {
	name := filepath.Base(strings.TrimSpace(sessionID))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, errors.New("archive: session id is required")
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", f.dir, err)
	}

	path := filepath.Join(f.dir, name+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}

	return &WAVArchive{
		path: path,
		file: file,
		enc:  wav.NewEncoder(file, pcm.SampleRate, 16, pcm.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: pcm.Channels, SampleRate: pcm.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WAVArchive appends transmitted frames to a 16-bit mono WAV file.
type WAVArchive struct {
	path string
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer

	mu     sync.Mutex
	closed bool
}

func (a *WAVArchive) WriteFrame(samples []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("archive: closed")
	}

	if cap(a.buf.Data) < len(samples) {
		a.buf.Data = make([]int, len(samples))
	}
	a.buf.Data = a.buf.Data[:len(samples)]
	for i, s := range samples {
		a.buf.Data[i] = int(s)
	}
	if err := a.enc.Write(a.buf); err != nil {
		return fmt.Errorf("archive: write %s: %w", a.path, err)
	}
	return nil
}

func (a *WAVArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	encErr := a.enc.Close()
	fileErr := a.file.Close()
	if encErr != nil {
		return fmt.Errorf("archive: finalize %s: %w", a.path, encErr)
	}
	return fileErr
}
