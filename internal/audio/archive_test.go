package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAVArchiveWritesFrames(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "recordings")
	archive, err := NewWAVArchiveFactory(dir).OpenArchive("sess-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	first := []int16{0, 1000, -1000, 32767}
	second := []int16{-32768, 5}
	if err := archive.WriteFrame(first); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := archive.WriteFrame(second); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := archive.WriteFrame(first); err == nil {
		t.Fatalf("expected write after close to fail")
	}

	file, err := os.Open(filepath.Join(dir, "sess-1.wav"))
	if err != nil {
		t.Fatalf("open wav failed: %v", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		t.Fatalf("expected a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	want := append(append([]int16(nil), first...), second...)
	if len(buf.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != int(want[i]) {
			t.Fatalf("sample %d: got %d want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVArchiveRequiresSessionID(t *testing.T) {
	t.Parallel()

	if _, err := NewWAVArchiveFactory(t.TempDir()).OpenArchive("  "); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}
