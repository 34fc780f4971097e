//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// stallTimeout is how long a running stream may go without a callback
// before it is reported as lost.
const stallTimeout = time.Second

var (
	paMu   sync.Mutex
	paRefs int
)

// paAcquire initializes PortAudio on first use.
func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init: %w", classifyPortAudio(err))
		}
	}
	paRefs++
	return nil
}

// paRelease terminates PortAudio when the last stream is gone.
func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// classifyPortAudio maps PortAudio errors onto the package sentinels.
// PortAudio reports host errors as text, so matching is by message.
func classifyPortAudio(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no default"),
		strings.Contains(msg, "invalid device"),
		strings.Contains(msg, "device unavailable"),
		strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}
	return err
}

// findDevice returns the named device or the default for the direction.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		var dev *portaudio.DeviceInfo
		var err error
		if input {
			dev, err = portaudio.DefaultInputDevice()
		} else {
			dev, err = portaudio.DefaultOutputDevice()
		}
		if err != nil {
			return nil, classifyPortAudio(err)
		}
		if dev == nil {
			return nil, ErrNoDevice
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, classifyPortAudio(err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 || !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// PortAudioSource captures from a PortAudio input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	closed  bool
	stopCh  chan struct{}
	life    *lifecycle

	lastCallback atomic.Int64 // unix nanos
	buffersRead  atomic.Int64
	samplesRead  atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &PortAudioSource{cfg: cfg, logger: logger, life: newLifecycle()}, nil
}

// Start opens the input stream.
func (s *PortAudioSource) Start(ctx context.Context, fn CaptureFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return fmt.Errorf("portaudio source: %w", ErrDeviceBusy)
	}

	if err := paAcquire(); err != nil {
		return err
	}

	dev, err := findDevice(s.cfg.Device, true)
	if err != nil {
		paRelease()
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = s.cfg.Channels
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = s.cfg.BufferSize()

	callback := func(in []float32) {
		s.lastCallback.Store(time.Now().UnixNano())
		s.buffersRead.Add(1)
		s.samplesRead.Add(int64(len(in)))
		fn(in)
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		paRelease()
		return fmt.Errorf("open input stream: %w", classifyPortAudio(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return fmt.Errorf("start input stream: %w", classifyPortAudio(err))
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.life.begin()
	s.lastCallback.Store(time.Now().UnixNano())

	go watchStream(ctx, s.stopCh, &s.lastCallback, s.stop)

	s.logger.Info("portaudio input started",
		"device", dev.Name,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"frames_per_buffer", params.FramesPerBuffer,
	)
	return nil
}

// watchStream ends the run when ctx is cancelled or callbacks stall.
func watchStream(ctx context.Context, stopCh chan struct{}, last *atomic.Int64, stop func(error)) {
	ticker := time.NewTicker(stallTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			stop(nil)
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, last.Load())) > stallTimeout {
				stop(ErrDeviceLost)
				return
			}
		}
	}
}

func (s *PortAudioSource) stop(cause error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if cause != nil {
		// A stalled stream may not respond to Stop.
		stream.Abort()
	} else {
		stream.Stop()
	}
	stream.Close()
	paRelease()

	if cause != nil {
		s.logger.Warn("portaudio input lost", "error", cause)
	}
	s.life.finish(cause)
}

// Stop closes the input stream.
func (s *PortAudioSource) Stop() error {
	s.stop(nil)
	return nil
}

func (s *PortAudioSource) Done() <-chan struct{} { return s.life.Done() }
func (s *PortAudioSource) Err() error            { return s.life.Err() }
func (s *PortAudioSource) Config() Config        { return s.cfg }
func (s *PortAudioSource) Name() string          { return string(BackendPortAudio) }

// Close stops the source for good.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		BuffersRead: s.buffersRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Running:     running,
		Backend:     string(BackendPortAudio),
	}
}

// PortAudioSink plays to a PortAudio output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	closed  bool
	stopCh  chan struct{}
	life    *lifecycle
	scratch []int16

	lastCallback    atomic.Int64
	buffersRendered atomic.Int64
	samplesRendered atomic.Int64
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &PortAudioSink{cfg: cfg, logger: logger, life: newLifecycle()}, nil
}

// Start opens the output stream.
func (s *PortAudioSink) Start(ctx context.Context, render RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return fmt.Errorf("portaudio sink: %w", ErrDeviceBusy)
	}

	if err := paAcquire(); err != nil {
		return err
	}

	dev, err := findDevice(s.cfg.Device, false)
	if err != nil {
		paRelease()
		return err
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = s.cfg.Channels
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = s.cfg.BufferSize()

	channels := s.cfg.Channels
	s.scratch = make([]int16, params.FramesPerBuffer)
	callback := func(out []int16) {
		s.lastCallback.Store(time.Now().UnixNano())
		s.scratch = renderInterleaved(render, s.scratch, out, channels)
		s.buffersRendered.Add(1)
		s.samplesRendered.Add(int64(len(out) / channels))
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		paRelease()
		return fmt.Errorf("open output stream: %w", classifyPortAudio(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return fmt.Errorf("start output stream: %w", classifyPortAudio(err))
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.life.begin()
	s.lastCallback.Store(time.Now().UnixNano())

	go watchStream(ctx, s.stopCh, &s.lastCallback, s.stop)

	s.logger.Info("portaudio output started",
		"device", dev.Name,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

func (s *PortAudioSink) stop(cause error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if cause != nil {
		stream.Abort()
	} else {
		stream.Stop()
	}
	stream.Close()
	paRelease()

	if cause != nil {
		s.logger.Warn("portaudio output lost", "error", cause)
	}
	s.life.finish(cause)
}

// Stop closes the output stream.
func (s *PortAudioSink) Stop() error {
	s.stop(nil)
	return nil
}

func (s *PortAudioSink) Done() <-chan struct{} { return s.life.Done() }
func (s *PortAudioSink) Err() error            { return s.life.Err() }
func (s *PortAudioSink) Config() Config        { return s.cfg }
func (s *PortAudioSink) Name() string          { return string(BackendPortAudio) }

// Close stops the sink for good.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		BuffersRendered: s.buffersRendered.Load(),
		SamplesRendered: s.samplesRendered.Load(),
		Running:         running,
		Backend:         string(BackendPortAudio),
	}
}
