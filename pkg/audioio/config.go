// Package audioio provides the device layer for audio capture and playback.
//
// Devices are callback driven: a Source pushes input buffers to a CaptureFunc
// on the device's own thread, and a Sink pulls output buffers from a
// RenderFunc on its own clock. Higher layers (pkg/audio) own the buffering
// and scheduling; this package only moves samples in and out of hardware.
//
// This package supports multiple backends:
//   - PortAudio - Linux, macOS and Windows (build with -tags portaudio)
//   - RTP - Opus over RTP to a network speaker (import pkg/audioio/rtpsink)
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically when Backend is "auto", or can be
// explicitly specified via configuration.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects PortAudio when compiled in, otherwise Mock.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendRTP streams Opus over RTP/UDP. Output only.
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Device errors. Backends wrap these so callers can use errors.Is.
var (
	// ErrNoDevice is returned when the requested device does not exist.
	ErrNoDevice = errors.New("audioio: no such device")

	// ErrPermissionDenied is returned when the OS refuses device access.
	ErrPermissionDenied = errors.New("audioio: permission denied")

	// ErrDeviceBusy is returned when another owner holds the device.
	ErrDeviceBusy = errors.New("audioio: device busy")

	// ErrDeviceLost is reported through Err when a running device stops
	// delivering callbacks.
	ErrDeviceLost = errors.New("audioio: device lost")

	// ErrClosed is returned when starting a closed device.
	ErrClosed = errors.New("audioio: closed")

	// ErrUnsupported is returned for backends not compiled into the binary.
	ErrUnsupported = errors.New("audioio: backend not available")
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the device sample rate in Hz.
	// Default: 48000 (native rate of most hardware)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of device channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of one device buffer.
	// Default: 20ms (960 samples at 48kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the backend-specific device identifier.
	// Examples:
	//   - PortAudio: device name as listed by the host API, empty for default
	//   - RTP: "host:port" of the receiver, e.g. "127.0.0.1:5000"
	//   - Mock: any label
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "", // Use system default
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.BufferSize() == 0 {
		return fmt.Errorf("buffer_duration %v is shorter than one sample", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames (samples per channel) per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// DeviceName returns Device, or "default" when empty.
func (c *Config) DeviceName() string {
	if c.Device == "" {
		return "default"
	}
	return c.Device
}

// WithBackend returns a copy with the backend set.
func (c Config) WithBackend(b Backend) Config {
	c.Backend = b
	return c
}

// WithDevice returns a copy with the device set.
func (c Config) WithDevice(device string) Config {
	c.Device = device
	return c
}
