package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live/pkg/audio"
)

// fakeTransport is an in-memory Transport. push feeds frames to the client,
// writes collects what it sent.
type fakeTransport struct {
	in     chan []byte
	errc   chan error
	closed chan struct{}
	wrote  chan []byte

	mu        sync.Mutex
	writes    [][]byte
	closeOnce sync.Once
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 64),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
		wrote:  make(chan []byte, 256),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case err := <-f.errc:
		return nil, err
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, data)
	f.mu.Unlock()
	f.wrote <- data
	return nil
}

func (f *fakeTransport) Ping() error { return nil }

func (f *fakeTransport) Close(code int, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, msg string) {
	t.Helper()
	f.in <- []byte(msg)
}

// serverClose makes the next read fail with a websocket close frame.
func (f *fakeTransport) serverClose(code int, text string) {
	f.errc <- &websocket.CloseError{Code: code, Text: text}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// nextWrite waits for the next outgoing frame and decodes its envelope.
func (f *fakeTransport) nextWrite(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	select {
	case data := <-f.wrote:
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outgoing message")
		return nil
	}
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
	dials     atomic.Int32
	header    http.Header
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Transport, error) {
	d.dials.Add(1)
	d.header = header
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

// fakeDevice stands in for both capture and playback.
type fakeDevice struct {
	mu       sync.Mutex
	starts   int
	stops    int
	flushes  int
	startErr error
	frames   []audio.PlaybackFrame
	consumer audio.FrameConsumer
}

func (d *fakeDevice) SetConsumer(fc audio.FrameConsumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumer = fc
}

func (d *fakeDevice) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Enqueue(f audio.PlaybackFrame) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
	return 0
}

func (d *fakeDevice) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
	d.frames = nil
}

func (d *fakeDevice) counts() (starts, stops, flushes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.flushes
}

// recorder keeps every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client) *recorder {
	r := &recorder{}
	SubscribeAll(c.Bus(), func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// names returns event names, leaving out state and log events.
func (r *recorder) names() []string {
	var out []string
	for _, e := range r.all() {
		switch e.(type) {
		case StateEvent, LogEvent:
			continue
		}
		out = append(out, e.EventName())
	}
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, e := range r.all() {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(name) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d %q events", n, name)
}

func testConfig() Config {
	cfg := DefaultConfig().WithAPIKey("test-key")
	cfg.Endpoint = "ws://fake.invalid/live"
	cfg.PingInterval = 0
	cfg.SetupTimeout = 2 * time.Second
	return cfg
}

// connectFake runs the setup handshake against a fake transport.
func connectFake(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeTransport, *recorder) {
	t.Helper()
	ft := newFakeTransport()
	c := New(cfg, append([]Option{WithDialer(&fakeDialer{transport: ft})}, opts...)...)
	rec := record(c)
	t.Cleanup(func() { c.Disconnect() })

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	env := ft.nextWrite(t)
	require.Contains(t, env, "setup")
	ft.push(t, `{"setupComplete":{}}`)
	require.NoError(t, <-errc)
	require.Equal(t, StateReady, c.State())
	return c, ft, rec
}

func textContent(text string, turnComplete bool) string {
	return fmt.Sprintf(`{"serverContent":{"modelTurn":{"parts":[{"text":%q}]},"turnComplete":%t}}`, text, turnComplete)
}

func audioContent(samples int, interrupted bool) string {
	pcm := make([]byte, samples*2)
	return fmt.Sprintf(`{"serverContent":{"interrupted":%t,"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":%q}}]}}}`,
		interrupted, base64.StdEncoding.EncodeToString(pcm))
}
