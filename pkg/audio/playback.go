package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// scheduled is a frame placed on the device timeline. start is in device
// samples since the sink started.
type scheduled struct {
	start   int64
	samples []int16
}

func (s scheduled) end() int64 { return s.start + int64(len(s.samples)) }

// PlaybackStats contains playback counters. Offsets are in device samples.
type PlaybackStats struct {
	QueuedSamples int64 `json:"queued_samples"`
	QueuedFrames  int   `json:"queued_frames"`
	FramesPlayed  int64 `json:"frames_played"`
	Underruns     int64 `json:"underruns"`
	Flushes       int64 `json:"flushes"`
	Cursor        int64 `json:"cursor"`
	Played        int64 `json:"played"`
	Running       bool  `json:"running"`
	SampleRate    int   `json:"sample_rate"`
}

// Playback schedules incoming frames contiguously against the output
// device clock.
//
// The clock is played, the number of samples the sink has pulled. cursor is
// where the next enqueued frame begins. While frames arrive before the
// cursor is reached they play back to back; once the queue runs dry the
// device renders silence and the next frame starts at the current clock.
type Playback struct {
	sink     audioio.Sink
	rate     int
	key      string
	owner    string
	registry *audioio.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	resamp  *audioio.Resampler // incoming rate -> device rate, nil until needed
	from    int                // rate resamp converts from
	queue   []scheduled
	cursor  int64
	played  int64
	idle    bool
	running bool
	release func()
	stopCh  chan struct{}

	framesPlayed int64
	underruns    int64
	flushes      int64
}

// NewPlayback creates a playback on sink.
func NewPlayback(sink audioio.Sink, opts ...Option) *Playback {
	o := buildOptions(opts)
	cfg := sink.Config()
	key := audioio.DeviceKey(audioio.Output, cfg)
	return &Playback{
		sink:     sink,
		rate:     cfg.SampleRate,
		key:      key,
		owner:    "playback-" + uuid.NewString(),
		registry: o.registry,
		logger:   o.logger.With("component", "playback", "device", key),
		idle:     true,
	}
}

// Start claims the output device and starts pulling audio.
func (p *Playback) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return &DeviceError{Op: "playback", Device: p.key, Err: audioio.ErrDeviceBusy}
	}

	release, err := p.registry.Claim(p.key, p.owner)
	if err != nil {
		return &DeviceError{Op: "playback", Device: p.key, Err: err}
	}

	// A fresh device clock starts at zero; anything queued before Start is
	// rebased onto it.
	p.rebaseLocked()

	if err := p.sink.Start(ctx, p.render); err != nil {
		release()
		return &DeviceError{Op: "playback", Device: p.key, Err: err}
	}

	p.running = true
	p.release = release
	p.stopCh = make(chan struct{})
	go p.watch(p.sink.Done(), p.stopCh)

	p.logger.Info("playback started", "backend", p.sink.Name(), "device_rate", p.rate)
	return nil
}

// must hold mu
func (p *Playback) rebaseLocked() {
	var at int64
	for i := range p.queue {
		p.queue[i].start = at
		at += int64(len(p.queue[i].samples))
	}
	p.played = 0
	p.cursor = at
}

func (p *Playback) watch(done <-chan struct{}, stopCh chan struct{}) {
	select {
	case <-stopCh:
	case <-done:
		if err := p.sink.Err(); err != nil {
			p.logger.Error("playback device lost", "error", err)
		}
		p.shutdown()
	}
}

// Enqueue schedules f directly after the previously queued frame, or at the
// current device clock if playback has caught up. It returns the device
// offset at which the frame will start.
func (p *Playback) Enqueue(f PlaybackFrame) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := p.convertLocked(f)
	if len(samples) == 0 {
		return p.cursor
	}
	if p.cursor < p.played {
		p.cursor = p.played
	}
	start := p.cursor
	p.queue = append(p.queue, scheduled{start: start, samples: samples})
	p.cursor += int64(len(samples))
	return start
}

// convertLocked resamples f to the device rate. Consecutive frames share
// one resampler so chunk boundaries interpolate like the inside of a chunk.
//
// must hold mu
func (p *Playback) convertLocked(f PlaybackFrame) []int16 {
	if f.SampleRate == 0 || f.SampleRate == p.rate {
		return f.Samples
	}
	if p.resamp == nil || p.from != f.SampleRate {
		p.resamp = audioio.NewResampler(f.SampleRate, p.rate)
		p.from = f.SampleRate
	}
	return p.resamp.ProcessInt16(f.Samples)
}

// must hold mu
func (p *Playback) resetResamplerLocked() {
	if p.resamp != nil {
		p.resamp.Reset()
	}
}

// Flush discards every frame not yet rendered and resets the cursor to the
// device clock, so the next frame plays immediately.
func (p *Playback) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := len(p.queue)
	p.queue = nil
	p.cursor = p.played
	p.resetResamplerLocked()
	p.idle = true
	p.flushes++

	if dropped > 0 {
		p.logger.Debug("playback flushed", "frames", dropped)
	}
}

// render is the sink's RenderFunc. It runs on the device clock.
func (p *Playback) render(out []int16) {
	clear(out)

	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.played
	to := from + int64(len(out))
	wrote := false

	keep := p.queue[:0]
	for _, s := range p.queue {
		lo := max(s.start, from)
		hi := min(s.end(), to)
		if lo < hi {
			copy(out[lo-from:hi-from], s.samples[lo-s.start:hi-s.start])
			wrote = true
		}
		if s.end() <= to {
			p.framesPlayed++
			continue
		}
		keep = append(keep, s)
	}
	// Zero the tail so dropped frames do not stay reachable.
	clear(p.queue[len(keep):])
	p.queue = keep

	switch {
	case wrote:
		p.idle = false
	case !p.idle:
		p.idle = true
		p.underruns++
	}

	p.played = to
}

// Stop halts the sink, releases the device and drops the queue. It is a
// no-op when playback is not running.
func (p *Playback) Stop() error {
	return p.shutdown()
}

func (p *Playback) shutdown() error {
	p.mu.Lock()
	if !p.running {
		p.queue = nil
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	release := p.release
	p.release = nil
	p.queue = nil
	p.cursor = p.played
	p.resetResamplerLocked()
	played, underruns := p.framesPlayed, p.underruns
	p.mu.Unlock()

	err := p.sink.Stop()
	release()

	p.logger.Info("playback stopped", "frames", played, "underruns", underruns)
	return err
}

// IsPlaying reports whether audio is queued or rendering.
func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

// SampleRate returns the device rate frames are converted to.
func (p *Playback) SampleRate() int { return p.rate }

// Stats returns playback counters.
func (p *Playback) Stats() PlaybackStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var queued int64
	for _, s := range p.queue {
		lo := max(s.start, p.played)
		queued += s.end() - lo
	}
	return PlaybackStats{
		QueuedSamples: queued,
		QueuedFrames:  len(p.queue),
		FramesPlayed:  p.framesPlayed,
		Underruns:     p.underruns,
		Flushes:       p.flushes,
		Cursor:        p.cursor,
		Played:        p.played,
		Running:       p.running,
		SampleRate:    p.rate,
	}
}
