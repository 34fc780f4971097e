package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave) either on a ticker or,
// in manual mode, each time Tick is called.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	fn      CaptureFunc
	stopCh  chan struct{}
	life    *lifecycle

	manual   bool
	startErr error

	// Stats
	buffersRead atomic.Int64
	samplesRead atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualTicks disables the internal ticker; buffers are produced only
// by Tick.
func WithManualTicks() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// WithStartError makes Start fail with err, e.g. ErrPermissionDenied.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		life:      newLifecycle(),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context, fn CaptureFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return fmt.Errorf("mock source: %w", ErrDeviceBusy)
	}
	if m.startErr != nil {
		return m.startErr
	}

	m.running = true
	m.fn = fn
	m.stopCh = make(chan struct{})
	m.life.begin()

	if !m.manual {
		go m.generateLoop(ctx, m.stopCh)
	}

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick delivers one buffer to the capture func. It is a no-op when the
// source is not running.
func (m *MockSource) Tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	fn := m.fn
	buf := m.generateBuffer()
	m.mu.Unlock()

	m.buffersRead.Add(1)
	m.samplesRead.Add(int64(len(buf)))
	fn(buf)
}

// must hold mu
func (m *MockSource) generateBuffer() []float32 {
	frames := m.cfg.BufferSize()
	samples := make([]float32, frames*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frames; i++ {
			v := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return samples
}

// Fail simulates the device disappearing while running.
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.life.finish(err)
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.life.finish(nil)
	m.logger.Debug("mock audio source stopped")
	return nil
}

// Done implements Source.
func (m *MockSource) Done() <-chan struct{} { return m.life.Done() }

// Err implements Source.
func (m *MockSource) Err() error { return m.life.Err() }

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Running reports whether the source is capturing.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		BuffersRead: m.buffersRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Running:     m.Running(),
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// It pulls audio on a ticker or, in manual mode, each time Pull is called,
// and keeps everything it rendered.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	render   RenderFunc
	stopCh   chan struct{}
	life     *lifecycle
	manual   bool
	rendered []int16
	keep     bool

	// Stats
	buffersRendered atomic.Int64
	samplesRendered atomic.Int64
}

// MockSinkOption configures a MockSink.
type MockSinkOption func(*MockSink)

// WithManualPull disables the internal ticker; audio is pulled only by Pull.
func WithManualPull() MockSinkOption {
	return func(m *MockSink) {
		m.manual = true
	}
}

// WithRecording keeps every rendered sample for inspection via Rendered.
func WithRecording() MockSinkOption {
	return func(m *MockSink) {
		m.keep = true
	}
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger, opts ...MockSinkOption) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSink{
		cfg:    cfg,
		logger: logger,
		life:   newLifecycle(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins pulling audio.
func (m *MockSink) Start(ctx context.Context, render RenderFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return fmt.Errorf("mock sink: %w", ErrDeviceBusy)
	}

	m.running = true
	m.render = render
	m.stopCh = make(chan struct{})
	m.life.begin()

	if !m.manual {
		go m.pullLoop(ctx, m.stopCh)
	}

	m.logger.Debug("mock audio sink started")
	return nil
}

func (m *MockSink) pullLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Pull(m.cfg.BufferSize())
		}
	}
}

// Pull renders n samples, advancing the sink clock by n. It returns nil
// when the sink is not running.
func (m *MockSink) Pull(n int) []int16 {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	render := m.render
	m.mu.Unlock()

	out := make([]int16, n)
	render(out)

	m.buffersRendered.Add(1)
	m.samplesRendered.Add(int64(n))

	if m.keep {
		m.mu.Lock()
		m.rendered = append(m.rendered, out...)
		m.mu.Unlock()
	}
	return out
}

// Rendered returns a copy of all samples pulled so far (WithRecording only).
func (m *MockSink) Rendered() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.rendered...)
}

// Stop halts audio pulling.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.life.finish(nil)
	m.logger.Debug("mock audio sink stopped")
	return nil
}

// Done implements Sink.
func (m *MockSink) Done() <-chan struct{} { return m.life.Done() }

// Err implements Sink.
func (m *MockSink) Err() error { return m.life.Err() }

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Running reports whether the sink is playing.
func (m *MockSink) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	return SinkStats{
		BuffersRendered: m.buffersRendered.Load(),
		SamplesRendered: m.samplesRendered.Load(),
		Running:         m.Running(),
		Backend:         "mock",
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
