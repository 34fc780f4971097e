// Package web serves a small dashboard API for a live session: status,
// recent conversation, a text input, and a websocket feed of every event.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-live/pkg/hub"
	"github.com/teslashibe/go-live/pkg/live"
)

const (
	conversationSize = 100
	logSize          = 500
)

// Session is the part of *live.Client the relay drives.
type Session interface {
	SessionID() string
	Stats() live.Stats
	SendText(text string) error
}

var _ Session = (*live.Client)(nil)

// ConversationEntry is one line of the visible conversation.
type ConversationEntry struct {
	Time    time.Time `json:"time"`
	Role    string    `json:"role"` // user, model, tool
	Message string    `json:"message"`
}

// Server is the relay server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	session   Session
	sessionMu sync.RWMutex

	events  *hub.Hub
	seq     atomic.Uint64
	started time.Time

	conversation   []ConversationEntry
	conversationMu sync.RWMutex

	logs   []live.LogEvent
	logsMu sync.RWMutex

	lastTurn   live.Turn
	lastTurnMu sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.app.Get("/metrics", adaptor.HTTPHandler(h))
	}
}

// WithStatic serves files from dir at /.
func WithStatic(dir string) Option {
	return func(s *Server) {
		s.app.Static("/", dir)
	}
}

// NewServer creates a relay server listening on addr once Run is called.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		logger:       slog.Default(),
		started:      time.Now(),
		conversation: make([]ConversationEntry, 0, conversationSize),
		logs:         make([]live.LogEvent, 0, logSize),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-live relay",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleGetConversation)
	api.Get("/logs", s.handleGetLogs)
	api.Post("/text", s.handleSendText)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.events = hub.New("events", s.logger)
	return s
}

// Attach relays sess and the events on bus. The returned func detaches
// the bus subscription.
func (s *Server) Attach(sess Session, bus *live.Bus) (detach func()) {
	s.sessionMu.Lock()
	s.session = sess
	s.sessionMu.Unlock()
	return live.SubscribeAll(bus, s.relay)
}

func (s *Server) relay(e live.Event) {
	switch ev := e.(type) {
	case live.ContentEvent:
		s.AddConversation("model", ev.Text)
	case live.ToolCallEvent:
		for _, call := range ev.Calls {
			s.AddConversation("tool", call.Name)
		}
	case live.LogEvent:
		s.addLog(ev)
	case live.TurnCompleteEvent:
		s.lastTurnMu.Lock()
		s.lastTurn = ev.Turn
		s.lastTurnMu.Unlock()
	}

	if err := s.events.BroadcastJSON(s.envelope(e)); err != nil {
		s.logger.Warn("encode event", "event", e.EventName(), "error", err)
	}
}

func (s *Server) envelope(e live.Event) hub.Envelope {
	env := hub.Envelope{Event: e.EventName(), Seq: s.seq.Add(1)}
	if sess := s.currentSession(); sess != nil {
		env.Session = sess.SessionID()
	}
	if data, err := jsonRaw(e); err == nil {
		env.Data = data
	}
	return env
}

// AddConversation appends a conversation entry, keeping the most recent.
func (s *Server) AddConversation(role, message string) {
	entry := ConversationEntry{Time: time.Now(), Role: role, Message: message}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > conversationSize {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()
}

func (s *Server) addLog(e live.LogEvent) {
	s.logsMu.Lock()
	s.logs = append(s.logs, e)
	if len(s.logs) > logSize {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()
}

func (s *Server) currentSession() Session {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session
}

// Hub returns the event broadcast hub.
func (s *Server) Hub() *hub.Hub { return s.events }

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.events.Run(hubCtx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.logger.Info("relay listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		stopHub()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errc
		return nil
	}
}
