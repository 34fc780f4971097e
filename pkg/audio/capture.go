package audio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// FrameConsumer receives capture frames. SendRealtime is called on the
// device callback thread and must not block.
type FrameConsumer interface {
	// Ready reports whether frames would be sent right now.
	Ready() bool
	SendRealtime(frames ...CaptureFrame) error
}

// Option configures a Capture or a Playback.
type Option func(*options)

type options struct {
	registry *audioio.Registry
	logger   *slog.Logger
}

// WithRegistry sets the device registry. Default: audioio.DefaultRegistry.
func WithRegistry(r *audioio.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{registry: audioio.DefaultRegistry, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CaptureStats contains capture counters.
type CaptureStats struct {
	FramesEmitted int64         `json:"frames_emitted"`
	FramesDropped int64         `json:"frames_dropped"`
	Running       bool          `json:"running"`
	Captured      time.Duration `json:"captured"`
	Level         float64       `json:"level"`
}

// Capture turns a microphone Source into CaptureFrames.
type Capture struct {
	src      audioio.Source
	key      string
	owner    string
	registry *audioio.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	consumer FrameConsumer
	running  bool
	release  func()
	stopCh   chan struct{}

	// device-thread state
	resampler *audioio.Resampler
	emitted   atomic.Int64 // samples at CaptureRate

	framesEmitted atomic.Int64
	framesDropped atomic.Int64
	level         atomic.Uint64 // math.Float64bits
	dropLog       rate.Sometimes
}

// NewCapture creates a capture on src.
func NewCapture(src audioio.Source, opts ...Option) *Capture {
	o := buildOptions(opts)
	key := audioio.DeviceKey(audioio.Input, src.Config())
	return &Capture{
		src:      src,
		key:      key,
		owner:    "capture-" + uuid.NewString(),
		registry: o.registry,
		logger:   o.logger.With("component", "capture", "device", key),
		dropLog:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// SetConsumer registers the single consumer of captured frames.
func (c *Capture) SetConsumer(fc FrameConsumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = fc
}

// Start claims the input device and starts the source. It fails with a
// *DeviceError when the device is held elsewhere, missing, or refused.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return &DeviceError{Op: "capture", Device: c.key, Err: audioio.ErrDeviceBusy}
	}

	release, err := c.registry.Claim(c.key, c.owner)
	if err != nil {
		return &DeviceError{Op: "capture", Device: c.key, Err: err}
	}

	cfg := c.src.Config()
	c.resampler = audioio.NewResampler(cfg.SampleRate, CaptureRate)
	c.emitted.Store(0)

	if err := c.src.Start(ctx, c.onBuffer); err != nil {
		release()
		return &DeviceError{Op: "capture", Device: c.key, Err: err}
	}

	c.running = true
	c.release = release
	c.stopCh = make(chan struct{})
	go c.watch(c.src.Done(), c.stopCh)

	c.logger.Info("capture started",
		"backend", c.src.Name(),
		"device_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return nil
}

// watch releases the device if the source stops on its own.
func (c *Capture) watch(done <-chan struct{}, stopCh chan struct{}) {
	select {
	case <-stopCh:
	case <-done:
		if err := c.src.Err(); err != nil {
			c.logger.Error("capture device lost", "error", err)
		}
		c.shutdown()
	}
}

// onBuffer runs on the device thread.
func (c *Capture) onBuffer(in []float32) {
	cfg := c.src.Config()
	mono := audioio.Downmix(in, cfg.Channels)
	resampled := c.resampler.Process(mono)
	if len(resampled) == 0 {
		return
	}

	frame := CaptureFrame{
		Samples:    audioio.Float32ToInt16(resampled),
		SampleRate: CaptureRate,
		Timestamp:  time.Duration(c.emitted.Load()) * time.Second / CaptureRate,
	}
	c.emitted.Add(int64(len(frame.Samples)))
	c.level.Store(math.Float64bits(frame.Level()))

	c.mu.Lock()
	consumer := c.consumer
	c.mu.Unlock()

	if consumer == nil || !consumer.Ready() {
		dropped := c.framesDropped.Add(1)
		c.dropLog.Do(func() {
			c.logger.Warn("dropping capture frames, consumer not ready", "dropped", dropped)
		})
		return
	}

	if err := consumer.SendRealtime(frame); err != nil {
		c.framesDropped.Add(1)
		return
	}
	c.framesEmitted.Add(1)
}

// Stop halts the source and releases the device. It is a no-op when the
// capture is not running.
func (c *Capture) Stop() error {
	return c.shutdown()
}

func (c *Capture) shutdown() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	release := c.release
	c.release = nil
	c.mu.Unlock()

	err := c.src.Stop()
	release()

	c.logger.Info("capture stopped",
		"frames", c.framesEmitted.Load(),
		"dropped", c.framesDropped.Load(),
	)
	return err
}

// Running reports whether the capture holds the device.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns capture counters.
func (c *Capture) Stats() CaptureStats {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	return CaptureStats{
		FramesEmitted: c.framesEmitted.Load(),
		FramesDropped: c.framesDropped.Load(),
		Running:       running,
		Captured:      time.Duration(c.emitted.Load()) * time.Second / CaptureRate,
		Level:         math.Float64frombits(c.level.Load()),
	}
}
