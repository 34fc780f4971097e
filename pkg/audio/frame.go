// Package audio implements the two media pipelines of a live session.
//
// Capture turns device buffers into 16 kHz mono PCM16 frames and hands each
// one straight to a FrameConsumer, dropping frames while the consumer is not
// ready. Playback schedules incoming frames back to back against the output
// device clock and truncates cleanly on Flush.
//
// Both sit on top of pkg/audioio, which owns the hardware.
package audio

import (
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// CaptureRate is the wire rate of outgoing audio.
const CaptureRate = 16000

// CaptureFrame is one buffer of outgoing microphone audio: mono, 16 kHz,
// signed 16-bit.
type CaptureFrame struct {
	Samples    []int16
	SampleRate int

	// Timestamp is the offset of the first sample from capture start,
	// derived from the sample count so it never goes backwards.
	Timestamp time.Duration
}

// Duration returns the length of the frame.
func (f CaptureFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the samples as PCM16 little-endian.
func (f CaptureFrame) Bytes() []byte {
	return audioio.SamplesToBytes(f.Samples)
}

// Level returns the normalized energy of the frame, 0.0 to 1.0.
func (f CaptureFrame) Level() float64 {
	return audioio.CalculateRMS(f.Samples)
}

// PlaybackFrame is one chunk of incoming model audio. Its rate is whatever
// the service sends, typically 24 kHz, and is never assumed to match the
// capture rate or the device rate.
type PlaybackFrame struct {
	Samples    []int16
	SampleRate int
	Arrival    time.Time
}

// NewPlaybackFrame decodes PCM16 little-endian bytes.
func NewPlaybackFrame(pcm []byte, sampleRate int) PlaybackFrame {
	return PlaybackFrame{
		Samples:    audioio.BytesToSamples(pcm),
		SampleRate: sampleRate,
		Arrival:    time.Now(),
	}
}

// Duration returns the length of the frame.
func (f PlaybackFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
