package web

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-live/pkg/hub"
	"github.com/teslashibe/go-live/pkg/live"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Attached bool       `json:"attached"`
	Session  live.Stats `json:"session"`
	Relay    hub.Stats  `json:"relay"`
	LastTurn live.Turn  `json:"last_turn"`
	Uptime   string     `json:"uptime"`
}

// SendTextRequest is the body of POST /api/text.
type SendTextRequest struct {
	Text string `json:"text"`
}

func jsonRaw(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Relay:  s.events.Stats(),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	if sess := s.currentSession(); sess != nil {
		resp.Attached = true
		resp.Session = sess.Stats()
	}
	s.lastTurnMu.RLock()
	resp.LastTurn = s.lastTurn
	s.lastTurnMu.RUnlock()
	return resp
}

// handleStatus returns the session state and counters
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleGetConversation returns recent conversation
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return c.JSON(s.conversation)
}

// handleGetLogs returns recent session log lines
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleSendText forwards a user message to the session
func (s *Server) handleSendText(c *fiber.Ctx) error {
	sess := s.currentSession()
	if sess == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no session attached"})
	}

	var req SendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	text := strings.TrimSpace(req.Text)

	if err := sess.SendText(text); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	s.AddConversation("user", text)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, live.ErrEmptyText):
		return fiber.StatusBadRequest
	case errors.Is(err, live.ErrNotReady), errors.Is(err, live.ErrClosed):
		return fiber.StatusConflict
	case errors.Is(err, live.ErrQueueFull):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// handleEventsWS streams every session event to the client, starting with
// a status snapshot.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	var first []hub.Message
	if data, err := jsonRaw(s.status()); err == nil {
		env := hub.Envelope{Event: "status", Data: data}
		if sess := s.currentSession(); sess != nil {
			env.Session = sess.SessionID()
		}
		if b, err := json.Marshal(env); err == nil {
			first = append(first, hub.NewTextMessage(b))
		}
	}
	hub.NewClient(s.events, c).Serve(first...)
}
