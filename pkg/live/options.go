package live

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/tools"
)

// CaptureDevice is the microphone side of a session. *audio.Capture
// implements it.
type CaptureDevice interface {
	SetConsumer(fc audio.FrameConsumer)
	Start(ctx context.Context) error
	Stop() error
}

// PlaybackDevice is the speaker side of a session. *audio.Playback
// implements it.
type PlaybackDevice interface {
	Start(ctx context.Context) error
	Stop() error
	Enqueue(f audio.PlaybackFrame) int64
	Flush()
}

var (
	_ CaptureDevice  = (*audio.Capture)(nil)
	_ PlaybackDevice = (*audio.Playback)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithCapture attaches a microphone. The client becomes its frame consumer
// and starts and stops it with the session.
func WithCapture(d CaptureDevice) Option {
	return func(c *Client) {
		c.capture = d
	}
}

// WithPlayback attaches a speaker. Model audio is enqueued on it and an
// interruption flushes it.
func WithPlayback(d PlaybackDevice) Option {
	return func(c *Client) {
		c.playback = d
	}
}

// WithDispatcher runs tool calls through d and answers them automatically.
// Its declarations are sent in the setup message.
func WithDispatcher(d tools.Dispatcher) Option {
	return func(c *Client) {
		c.dispatcher = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}
