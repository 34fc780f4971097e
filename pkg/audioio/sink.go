package audioio

import (
	"context"
	"io"
)

// RenderFunc fills out with the next len(out) mono PCM16 samples at the
// sink's sample rate. The sink calls it from its own clock; every call
// advances the device clock by len(out) samples. out may hold stale data,
// so the render function zeroes anything it has no audio for.
type RenderFunc func(out []int16)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start opens the device and begins pulling audio from render.
	// Starting a running sink is an error.
	Start(ctx context.Context, render RenderFunc) error

	// Stop halts playback and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Done is closed when the sink stops, either through Stop or because
	// the device went away.
	Done() <-chan struct{}

	// Err returns why the sink stopped on its own, or nil.
	Err() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "rtp", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// BuffersRendered is the total number of buffers pulled.
	BuffersRendered int64 `json:"buffers_rendered"`

	// SamplesRendered is the total number of mono samples pulled.
	SamplesRendered int64 `json:"samples_rendered"`

	// Running indicates if the sink is currently playing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}

// renderInterleaved pulls len(out)/channels mono samples into scratch and
// writes them to out, duplicating across channels.
func renderInterleaved(render RenderFunc, scratch []int16, out []int16, channels int) []int16 {
	frames := len(out) / channels
	if cap(scratch) < frames {
		scratch = make([]int16, frames)
	}
	scratch = scratch[:frames]
	clear(scratch)
	render(scratch)
	if channels == 1 {
		copy(out, scratch)
		return scratch
	}
	for i, s := range scratch {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = s
		}
	}
	return scratch
}
