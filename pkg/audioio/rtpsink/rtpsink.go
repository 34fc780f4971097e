// Package rtpsink provides an audioio.Sink that streams Opus over RTP/UDP to
// a network speaker, e.g. a GStreamer receiver:
//
//	gst-launch-1.0 udpsrc port=5000 caps="application/x-rtp,media=audio,encoding-name=OPUS,clock-rate=48000,payload=96" \
//	  ! rtpopusdepay ! opusdec ! autoaudiosink
//
// Importing the package registers the "rtp" backend:
//
//	import _ "github.com/teslashibe/go-live/pkg/audioio/rtpsink"
package rtpsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-live/pkg/audioio"
)

const (
	// DefaultAddr is where the receiver listens by default.
	DefaultAddr = "127.0.0.1:5000"

	// PayloadType is the dynamic RTP payload type used for Opus.
	PayloadType = 96

	// clockRate is the RTP clock for Opus, fixed by RFC 7587.
	clockRate = 48000

	// maxPacket bounds one encoded Opus frame.
	maxPacket = 1500
)

func init() {
	audioio.RegisterSink(audioio.BackendRTP, func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
		return New(cfg, logger)
	})
}

// Sink pulls audio on a wall-clock ticker, Opus-encodes each buffer and
// sends it as one RTP packet.
type Sink struct {
	cfg    audioio.Config
	logger *slog.Logger
	addr   string

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	err     error

	ssrc uint32
	seq  uint16
	ts   uint32

	buffersRendered atomic.Int64
	samplesRendered atomic.Int64
	packetsSent     atomic.Int64
	sendErrors      atomic.Int64
}

// New creates an RTP sink. cfg.Device is the receiver "host:port".
func New(cfg audioio.Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("rtpsink: opus does not support %d Hz", cfg.SampleRate)
	}
	switch cfg.BufferDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return nil, fmt.Errorf("rtpsink: opus does not support %v frames", cfg.BufferDuration)
	}

	addr := cfg.Device
	if addr == "" {
		addr = DefaultAddr
	}

	done := make(chan struct{})
	close(done)
	return &Sink{
		cfg:    cfg,
		logger: logger.With("component", "rtpsink", "addr", addr),
		addr:   addr,
		doneCh: done,
	}, nil
}

// Start dials the receiver and begins pulling audio from render.
func (s *Sink) Start(ctx context.Context, render audioio.RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioio.ErrClosed
	}
	if s.running {
		return fmt.Errorf("rtpsink: %w", audioio.ErrDeviceBusy)
	}

	raddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("rtpsink: resolve %s: %w", s.addr, audioio.ErrNoDevice)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("rtpsink: dial %s: %w", s.addr, err)
	}

	enc, err := opus.NewEncoder(s.cfg.SampleRate, s.cfg.Channels, opus.AppVoIP)
	if err != nil {
		conn.Close()
		return fmt.Errorf("rtpsink: opus encoder: %w", err)
	}

	s.conn = conn
	s.running = true
	s.err = nil
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.ssrc = rand.Uint32()
	s.seq = uint16(rand.Uint32())
	s.ts = rand.Uint32()

	go s.loop(ctx, render, s.stopCh, conn, enc)

	s.logger.Info("rtp sink started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"frame_ms", s.cfg.BufferDuration.Milliseconds(),
		"ssrc", s.ssrc,
	)
	return nil
}

func (s *Sink) loop(ctx context.Context, render audioio.RenderFunc, stopCh chan struct{}, conn *net.UDPConn, enc *opus.Encoder) {
	frames := s.cfg.BufferSize()
	channels := s.cfg.Channels
	mono := make([]int16, frames)
	packet := make([]byte, maxPacket)
	tsStep := uint32(clockRate * s.cfg.BufferDuration / time.Second)

	ticker := time.NewTicker(s.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop(nil)
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}

		clear(mono)
		render(mono)
		s.buffersRendered.Add(1)
		s.samplesRendered.Add(int64(frames))

		pcm := mono
		if channels == 2 {
			pcm = audioio.MonoToStereo(mono)
		}

		n, err := enc.Encode(pcm, packet)
		if err != nil {
			s.stop(fmt.Errorf("rtpsink: encode: %w", err))
			return
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: packet[:n],
		}
		s.seq++
		s.ts += tsStep

		raw, err := pkt.Marshal()
		if err != nil {
			s.stop(fmt.Errorf("rtpsink: marshal: %w", err))
			return
		}
		if _, err := conn.Write(raw); err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.stop(audioio.ErrDeviceLost)
				return
			}
			// Nobody listening yet is normal for UDP.
			if s.sendErrors.Add(1) == 1 {
				s.logger.Warn("rtp send failed", "error", err)
			}
			continue
		}
		s.packetsSent.Add(1)
	}
}

func (s *Sink) stop(cause error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	s.conn = nil
	s.err = cause
	done := s.doneCh
	s.mu.Unlock()

	conn.Close()
	if cause != nil {
		s.logger.Warn("rtp sink stopped", "error", cause)
	} else {
		s.logger.Debug("rtp sink stopped", "packets", s.packetsSent.Load())
	}
	close(done)
}

// Stop halts streaming and closes the socket.
func (s *Sink) Stop() error {
	s.stop(nil)
	return nil
}

// Done is closed when the sink stops.
func (s *Sink) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Err returns why the sink stopped on its own.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sink) Config() audioio.Config { return s.cfg }
func (s *Sink) Name() string           { return string(audioio.BackendRTP) }

// Close stops the sink for good.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *Sink) Stats() audioio.SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return audioio.SinkStats{
		BuffersRendered: s.buffersRendered.Load(),
		SamplesRendered: s.samplesRendered.Load(),
		Running:         running,
		Backend:         string(audioio.BackendRTP),
	}
}

// PacketsSent returns the number of RTP packets written.
func (s *Sink) PacketsSent() int64 { return s.packetsSent.Load() }

var _ audioio.SinkWithStats = (*Sink)(nil)
