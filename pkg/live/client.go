package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/protocol"
	"github.com/teslashibe/go-live/pkg/tools"
)

// ErrEmptyText is returned by SendText for blank input.
var ErrEmptyText = errors.New("live: empty text")

// warnInterval rate-limits repeated warnings from the audio path.
const warnInterval = 5 * time.Second

// Client is one Gemini Live session. It is single-use: once it reaches
// Closed or Failed, create a new Client.
type Client struct {
	cfg    Config
	id     string
	logger *slog.Logger
	bus    *Bus
	dialer Dialer

	capture    CaptureDevice
	playback   PlaybackDevice
	dispatcher tools.Dispatcher
	metrics    *TurnMetrics

	mu          sync.Mutex
	state       State
	started     bool
	conn        Transport
	cancel      context.CancelFunc
	failure     *Error
	outstanding map[string]string // call id -> function name

	outq    chan protocol.ClientMessage
	readyCh chan error

	teardownOnce sync.Once
	mbox         *mailbox
	text         *coalescer

	// reader goroutine only
	interrupted bool

	seq      atomic.Uint64
	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64

	notReadyLog rate.Sometimes
	dropLog     rate.Sometimes
}

// Stats is a snapshot of session counters.
type Stats struct {
	State            State  `json:"state"`
	SessionID        string `json:"session_id"`
	MessagesSent     int64  `json:"messages_sent"`
	MessagesReceived int64  `json:"messages_received"`
	AudioDropped     int64  `json:"audio_dropped"`
	OutstandingTools int    `json:"outstanding_tools"`
}

// New creates an idle session. Unset fields of cfg are filled by
// WithDefaults; nothing is validated or opened until Connect.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:         cfg,
		id:          uuid.NewString(),
		logger:      slog.Default(),
		dialer:      WebsocketDialer{},
		metrics:     NewTurnMetrics(),
		state:       StateIdle,
		outstanding: make(map[string]string),
		readyCh:     make(chan error, 1),
		notReadyLog: rate.Sometimes{First: 1, Interval: warnInterval},
		dropLog:     rate.Sometimes{First: 1, Interval: warnInterval},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("component", "live", "session", c.id)
	c.bus = NewBus(c.logger)
	c.mbox = newMailbox(c.bus)

	// Negative values fail Validate in Connect.
	c.text = newCoalescer(max(cfg.CoalesceWindow, 0), c.mbox.post)
	c.outq = make(chan protocol.ClientMessage, max(cfg.SendQueueSize, 0))

	if c.capture != nil {
		c.capture.SetConsumer(c)
	}
	return c
}

// Bus returns the session's event bus.
func (c *Client) Bus() *Bus { return c.bus }

// SessionID returns the client-side session id used in logs.
func (c *Client) SessionID() string { return c.id }

// Config returns the session configuration.
func (c *Client) Config() Config { return c.cfg }

// Metrics returns the turn latency collector.
func (c *Client) Metrics() *TurnMetrics { return c.metrics }

// Done is closed after the session reaches Closed and every event has been
// delivered.
func (c *Client) Done() <-chan struct{} { return c.mbox.done }

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the session accepts sends.
func (c *Client) Ready() bool {
	return c.State() == StateReady
}

// Stats returns session counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	state, outstanding := c.state, len(c.outstanding)
	c.mu.Unlock()
	return Stats{
		State:            state,
		SessionID:        c.id,
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		AudioDropped:     c.dropped.Load(),
		OutstandingTools: outstanding,
	}
}

// Connect opens the session and blocks until the service acknowledges
// setup, the setup timeout passes, or ctx is done. ctx bounds only the
// connection attempt; the session lives until Disconnect or a failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.cfg.Validate(); err != nil {
		c.mu.Unlock()
		return c.abort(err.(*Error))
	}
	c.setStateLocked(StateConnecting)
	sctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.startDevices(sctx); err != nil {
		return err
	}

	header, err := authHeader(ctx, &c.cfg)
	if err != nil {
		return c.abort(newError(KindAuth, "token", err))
	}

	c.logger.Info("connecting", "endpoint", c.cfg.Endpoint, "model", c.cfg.Model)
	conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint, header)
	if err != nil {
		return c.abort(newError(classify(err), "dial", err))
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close(websocket.CloseNormalClosure, "")
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	decls := c.declarations()
	setup := c.cfg.buildSetup(decls)
	data, err := protocol.Encode(setup)
	if err != nil {
		return c.abort(newError(KindProtocol, "setup", err))
	}
	if err := conn.WriteMessage(data); err != nil {
		return c.abort(newError(classify(err), "setup", err))
	}
	c.sent.Add(1)
	c.log(slog.LevelDebug, "client.send", fmt.Sprintf("setup %s (%d tools)", setup.Model, len(decls)))

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrClosed
	}
	c.setStateLocked(StateAwaitingSetupAck)
	c.mu.Unlock()

	go c.readLoop(sctx, conn)
	go c.writeLoop(sctx, conn)

	timer := time.NewTimer(c.cfg.SetupTimeout)
	defer timer.Stop()

	if err := c.awaitSetup(ctx, timer.C); err != nil {
		return err
	}

	if c.cfg.Greeting != "" {
		if err := c.SendText(c.cfg.Greeting); err != nil {
			c.logger.Warn("greeting not sent", "error", err)
		}
	}
	return nil
}

// awaitSetup waits for the setupComplete outcome. When the deadline or ctx
// fires together with setupComplete, the acknowledgement wins.
func (c *Client) awaitSetup(ctx context.Context, deadline <-chan time.Time) error {
	var cause *Error
	select {
	case err := <-c.readyCh:
		return err
	case <-deadline:
		cause = newError(KindTimeout, "setup",
			fmt.Errorf("no setupComplete within %s", c.cfg.SetupTimeout))
	case <-ctx.Done():
		cause = newError(KindNetwork, "connect", ctx.Err())
	}

	select {
	case err := <-c.readyCh:
		return err
	default:
		return c.abort(cause)
	}
}

func (c *Client) declarations() []*genai.FunctionDeclaration {
	if c.dispatcher == nil {
		return nil
	}
	return c.dispatcher.Declarations()
}

// startDevices starts playback before capture, so model audio has
// somewhere to go by the time the user can speak.
func (c *Client) startDevices(ctx context.Context) error {
	if c.playback != nil {
		if err := c.playback.Start(ctx); err != nil {
			return c.abort(newError(KindDevice, "playback", err))
		}
	}
	if c.capture != nil {
		if err := c.capture.Start(ctx); err != nil {
			return c.abort(newError(KindDevice, "capture", err))
		}
	}

	// Disconnect may have run teardown while the devices were starting.
	if c.State() != StateConnecting {
		c.stopDevices()
		return ErrClosed
	}
	return nil
}

func (c *Client) stopDevices() {
	if c.capture != nil {
		if err := c.capture.Stop(); err != nil {
			c.logger.Warn("capture stop", "error", err)
		}
	}
	if c.playback != nil {
		if err := c.playback.Stop(); err != nil {
			c.logger.Warn("playback stop", "error", err)
		}
	}
}

// SendRealtime streams captured audio, one media chunk per frame. Outside
// Ready it drops the frames with a warning and returns nil, since capture
// may race connection setup and teardown. It never blocks.
func (c *Client) SendRealtime(frames ...audio.CaptureFrame) error {
	if len(frames) == 0 {
		return nil
	}
	pcm := make([][]byte, 0, len(frames))
	for _, f := range frames {
		pcm = append(pcm, f.Bytes())
	}
	msg := protocol.NewRealtimeAudio(audio.CaptureRate, pcm...)

	c.mu.Lock()
	state := c.state
	ok := state == StateReady && c.enqueueLocked(msg)
	c.mu.Unlock()

	if state != StateReady {
		c.notReadyLog.Do(func() {
			c.log(slog.LevelWarn, "client.realtimeInput", "audio dropped, session is "+state.String())
		})
		return nil
	}
	if !ok {
		n := c.dropped.Add(int64(len(frames)))
		c.dropLog.Do(func() {
			c.log(slog.LevelWarn, "client.realtimeInput", fmt.Sprintf("send queue full, %d audio frames dropped", n))
		})
	}
	return nil
}

// SendText sends text as one complete user turn.
func (c *Client) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.metrics.MarkRequest()
	ok := c.enqueueLocked(protocol.NewUserText(text))
	c.mu.Unlock()

	if !ok {
		return ErrQueueFull
	}
	return nil
}

// SendToolResponse answers a function call. An id that matches no
// outstanding call is still forwarded; the service decides what to do with
// it.
func (c *Client) SendToolResponse(id, name, output string) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	_, matched := c.outstanding[id]
	delete(c.outstanding, id)
	ok := c.enqueueLocked(protocol.NewToolResponse(id, name, output))
	c.mu.Unlock()

	if !matched {
		c.log(slog.LevelWarn, "client.toolResponse", fmt.Sprintf("response for unknown call id %q (%s)", id, name))
	}
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// must hold mu
func (c *Client) enqueueLocked(msg protocol.ClientMessage) bool {
	select {
	case c.outq <- msg:
		return true
	default:
		return false
	}
}

// Disconnect closes the session. It is idempotent and safe from any state,
// including from an event handler. Sends fail as soon as it is called.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	}
	c.text.flush()
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	c.signalReady(ErrClosed)
	c.teardown(websocket.CloseNormalClosure, "")
	c.finish(CloseEvent{Code: websocket.CloseNormalClosure})
	return nil
}

// closeRemote handles a normal close initiated by the service.
func (c *Client) closeRemote(code int, reason string) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	c.text.flush()
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	c.logger.Info("server closed session", "code", code, "reason", reason)
	c.teardown(websocket.CloseNormalClosure, "")
	c.finish(CloseEvent{Code: code, Reason: reason})
}

func (c *Client) finish(ev CloseEvent) {
	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.logger.Info("session closed", "sent", c.sent.Load(), "received", c.received.Load())
	c.mbox.post(ev)
	c.mbox.close()
}

// fail moves the session to Failed. Teardown completes before the
// ErrorEvent is posted. It returns false if the session had already ended.
func (c *Client) fail(e *Error) bool {
	c.mu.Lock()
	if c.state.Terminal() || c.state == StateClosing {
		c.mu.Unlock()
		return false
	}
	c.text.flush()
	c.failure = e
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	code := websocket.CloseNormalClosure
	if e.Kind == KindProtocol {
		code = websocket.CloseProtocolError
	}
	c.teardown(code, e.Kind.String()+" error")
	c.signalReady(e)

	c.logger.Error("session failed", "kind", e.Kind, "op", e.Op, "error", e.Err)
	c.mbox.post(ErrorEvent{Err: e})
	return true
}

// abort fails the session from inside Connect and returns the error that
// actually ended it.
func (c *Client) abort(e *Error) error {
	if c.fail(e) {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	return ErrClosed
}

// Err returns the error that failed the session, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return nil
	}
	return c.failure
}

// teardown cancels the I/O goroutines, closes the socket and stops the
// devices, once.
func (c *Client) teardown(code int, reason string) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		conn, cancel := c.conn, c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if err := conn.Close(code, reason); err != nil {
				c.logger.Debug("close transport", "error", err)
			}
		}
		c.stopDevices()
	})
}

func (c *Client) signalReady(err error) {
	select {
	case c.readyCh <- err:
	default:
	}
}

// must hold mu
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.logger.Warn("illegal state transition", "from", from, "to", to)
		return
	}
	c.state = to
	c.logger.Debug("state", "from", from, "to", to, "seq", c.seq.Add(1))
	c.mbox.post(StateEvent{From: from, To: to})
}

// log writes to the session logger and mirrors the line as a LogEvent.
func (c *Client) log(level slog.Level, typ, msg string) {
	c.logger.Log(context.Background(), level, msg, "type", typ, "seq", c.seq.Add(1))
	c.mbox.post(LogEvent{Time: time.Now(), Type: typ, Message: msg, Level: level})
}

// emit posts a non-text event after any pending text.
func (c *Client) emit(e Event) {
	c.text.flush()
	c.mbox.post(e)
}

// readLoop is the only reader of conn.
func (c *Client) readLoop(ctx context.Context, conn Transport) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.onReadError(err)
			return
		}
		c.received.Add(1)

		msg, err := protocol.Decode(data)
		if err != nil {
			c.fail(newError(KindProtocol, "read", err))
			return
		}
		if !c.dispatch(ctx, msg) {
			return
		}
	}
}

func (c *Client) onReadError(err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure && c.State() == StateReady {
		c.closeRemote(ce.Code, ce.Text)
		return
	}
	c.fail(newError(classify(err), "read", err))
}

// writeLoop is the only writer of conn after setup, so outgoing messages
// keep the order of the Send calls.
func (c *Client) writeLoop(ctx context.Context, conn Transport) {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.outq:
			data, err := protocol.Encode(msg)
			if err != nil {
				c.log(slog.LevelError, "client.send", err.Error())
				continue
			}
			if err := conn.WriteMessage(data); err != nil {
				if ctx.Err() == nil {
					c.fail(newError(classify(err), "write", err))
				}
				return
			}
			c.sent.Add(1)
			c.logSend(msg)

		case <-ping:
			if err := conn.Ping(); err != nil {
				if ctx.Err() == nil {
					c.fail(newError(classify(err), "ping", err))
				}
				return
			}
		}
	}
}

// logSend records outgoing messages. Audio chunks go to the debug log only;
// mirroring them would flood subscribers.
func (c *Client) logSend(msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case *protocol.RealtimeInput:
		c.logger.Debug("client.send", "kind", m.Kind(), "chunks", len(m.MediaChunks))
	case *protocol.ClientContent:
		c.log(slog.LevelDebug, "client.send", fmt.Sprintf("%s: %d turns", m.Kind(), len(m.Turns)))
	case *protocol.ToolResponse:
		ids := make([]string, len(m.FunctionResponses))
		for i, r := range m.FunctionResponses {
			ids[i] = r.ID
		}
		c.log(slog.LevelDebug, "client.send", fmt.Sprintf("%s: %s", m.Kind(), strings.Join(ids, ", ")))
	default:
		c.log(slog.LevelDebug, "client.send", msg.Kind())
	}
}
