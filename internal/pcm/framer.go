// Package pcm turns float capture blocks into fixed-size 16-bit PCM frames.
package pcm

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate   = 16000
	Channels     = 1
	FrameSamples = SampleRate * 40 / 1000
	FrameBytes   = FrameSamples * 2

	// DefaultSilenceThreshold is the RMS, in int16 units, below which a frame is dropped.
	DefaultSilenceThreshold = 100.0
)

// Frame is one fixed-size chunk of encoded audio.
type Frame struct {
	Samples []int16
	Data    []byte
	RMS     float64
}

// Framer accumulates float blocks and slices off frames of exactly frameSamples.
// It is not safe for concurrent use; one capture loop owns it.
type Framer struct {
	frameSamples int
	threshold    float64
	pending      []float32
}

func NewFramer(frameSamples int, silenceThreshold float64) *Framer {
	if frameSamples <= 0 {
		frameSamples = FrameSamples
	}
	if silenceThreshold < 0 {
		silenceThreshold = 0
	}
	return &Framer{
		frameSamples: frameSamples,
		threshold:    silenceThreshold,
		pending:      make([]float32, 0, frameSamples*2),
	}
}

// Write appends a block and returns every complete candidate frame, in order.
// Silent frames are included; callers drop them with Silent.
func (f *Framer) Write(block []float32) []Frame {
	f.pending = append(f.pending, block...)

	var frames []Frame
	for len(f.pending) >= f.frameSamples {
		frames = append(frames, encodeFrame(f.pending[:f.frameSamples]))
		f.pending = f.pending[f.frameSamples:]
	}

	// Compact so the backing array does not grow without bound.
	if len(f.pending) > 0 && cap(f.pending)-len(f.pending) < f.frameSamples {
		f.pending = append(make([]float32, 0, f.frameSamples*2), f.pending...)
	}
	return frames
}

// Buffered reports how many samples wait for the next frame.
func (f *Framer) Buffered() int {
	return len(f.pending)
}

// Reset drops any buffered remainder.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

// Silent reports whether the frame falls under the energy gate.
func (f *Framer) Silent(frame Frame) bool {
	return frame.RMS < f.threshold
}

func encodeFrame(samples []float32) Frame {
	frame := Frame{
		Samples: make([]int16, len(samples)),
		Data:    make([]byte, len(samples)*2),
	}
	for i, sample := range samples {
		value := FloatToInt16(sample)
		frame.Samples[i] = value
		binary.LittleEndian.PutUint16(frame.Data[i*2:], uint16(value))
	}
	frame.RMS = RMS(frame.Samples)
	return frame
}

// FloatToInt16 converts a sample in [-1, 1] to int16, rounding and clamping.
func FloatToInt16(sample float32) int16 {
	v := float64(sample)
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		v *= 32768
	} else {
		v *= 32767
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// RMS is the root-mean-square of the samples in int16 units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level is the RMS of a float block, in [0, 1].
func Level(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := math.Max(-1, math.Min(1, float64(s)))
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}
