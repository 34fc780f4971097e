package audioio

import (
	"context"
	"io"
	"sync"
)

// CaptureFunc receives one device buffer of interleaved float32 samples in
// [-1, 1] at the source's rate and channel count. It runs on the device
// callback thread: it must not block and must not retain samples.
type CaptureFunc func(samples []float32)

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start opens the device and begins delivering buffers to fn.
	// Starting a running source is an error.
	Start(ctx context.Context, fn CaptureFunc) error

	// Stop halts capture and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Done is closed when the source stops, either through Stop or because
	// the device went away.
	Done() <-chan struct{}

	// Err returns why the source stopped on its own, or nil.
	Err() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// BuffersRead is the total number of device buffers delivered.
	BuffersRead int64 `json:"buffers_read"`

	// SamplesRead is the total number of samples delivered.
	SamplesRead int64 `json:"samples_read"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// lifecycle tracks one run of a device: a done channel closed exactly once
// and the error that ended the run.
type lifecycle struct {
	mu     sync.Mutex
	done   chan struct{}
	err    error
	closed bool
}

func newLifecycle() *lifecycle {
	l := &lifecycle{done: make(chan struct{})}
	// A device that was never started counts as stopped.
	l.closed = true
	close(l.done)
	return l
}

// begin starts a new run.
func (l *lifecycle) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = make(chan struct{})
	l.err = nil
	l.closed = false
}

// finish ends the current run. Only the first call per run records err.
func (l *lifecycle) finish(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	l.err = err
	close(l.done)
	return true
}

func (l *lifecycle) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
