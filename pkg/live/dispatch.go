package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/protocol"
	"github.com/teslashibe/go-live/pkg/tools"
)

// dispatch routes one incoming message. It runs on the reader goroutine and
// returns false when the session has ended.
func (c *Client) dispatch(ctx context.Context, msg protocol.ServerMessage) bool {
	state := c.State()
	switch state {
	case StateAwaitingSetupAck:
		if _, ok := msg.(*protocol.SetupComplete); !ok {
			c.fail(newError(KindProtocol, "setup", fmt.Errorf("expected setupComplete, got %s", msg.Kind())))
			return false
		}
	case StateReady:
	default:
		return false
	}

	if _, ok := msg.(*protocol.ServerContent); !ok {
		c.text.flush()
	}

	switch m := msg.(type) {
	case *protocol.SetupComplete:
		c.onSetupComplete()
	case *protocol.ServerContent:
		c.onServerContent(m)
	case *protocol.ToolCall:
		c.onToolCall(ctx, m)
	case *protocol.ToolCallCancellation:
		c.onToolCallCancellation(m)
	case *protocol.GoAway:
		c.log(slog.LevelWarn, "server.goAway", "server will close the session, time left: "+m.TimeLeft)
	case *protocol.Unrecognized:
		c.log(slog.LevelWarn, "server.unrecognized", fmt.Sprintf("unrecognized message with keys %v", m.Keys))
	default:
		c.log(slog.LevelWarn, "server.unknown", fmt.Sprintf("unhandled message %T", msg))
	}
	return true
}

func (c *Client) onSetupComplete() {
	c.mu.Lock()
	if c.state != StateAwaitingSetupAck {
		c.mu.Unlock()
		c.log(slog.LevelWarn, "server.setupComplete", "duplicate setupComplete ignored")
		return
	}
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	c.logger.Info("session ready")
	c.emit(OpenEvent{SessionID: c.id})
	c.signalReady(nil)
}

// onServerContent handles an interruption first, so stale audio is cut
// before any part of the same message is scheduled.
func (c *Client) onServerContent(m *protocol.ServerContent) {
	if m.Interrupted {
		if c.playback != nil {
			c.playback.Flush()
		}
		c.interrupted = true
		c.emit(InterruptedEvent{})
	}

	for _, part := range m.Parts {
		switch p := part.(type) {
		case protocol.TextPart:
			c.metrics.MarkFirstText()
			c.text.add(p.Text)
		case protocol.AudioPart:
			rate := p.SampleRate
			if rate == 0 {
				rate = c.cfg.OutputSampleRate
			}
			frame := audio.NewPlaybackFrame(p.PCM, rate)
			if c.playback != nil {
				c.playback.Enqueue(frame)
			}
			c.metrics.MarkAudio()
			c.emit(AudioEvent{Frame: frame})
		case protocol.BlobPart:
			c.log(slog.LevelDebug, "server.content", fmt.Sprintf("ignored inline %s (%d bytes)", p.MimeType, len(p.Data)))
		}
	}

	if m.TurnComplete {
		turn := c.metrics.Complete(c.interrupted)
		c.interrupted = false
		c.emit(TurnCompleteEvent{Turn: turn})
	}
}

func (c *Client) onToolCall(ctx context.Context, m *protocol.ToolCall) {
	c.mu.Lock()
	for _, fc := range m.FunctionCalls {
		c.outstanding[fc.ID] = fc.Name
	}
	c.mu.Unlock()

	c.log(slog.LevelInfo, "server.toolCall", strings.Join(m.FunctionNames(), ", "))
	c.emit(ToolCallEvent{Calls: m.FunctionCalls})

	if c.dispatcher == nil {
		return
	}
	for _, fc := range m.FunctionCalls {
		go c.runTool(ctx, fc)
	}
}

// runTool answers one call through the dispatcher unless it was cancelled
// in the meantime.
func (c *Client) runTool(ctx context.Context, fc protocol.FunctionCall) {
	res := c.dispatcher.Dispatch(ctx, tools.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})

	c.mu.Lock()
	_, pending := c.outstanding[fc.ID]
	c.mu.Unlock()
	if !pending {
		c.logger.Debug("tool result dropped, call no longer outstanding", "tool", fc.Name, "id", fc.ID)
		return
	}

	if err := c.SendToolResponse(res.CallID, res.Name, res.Output); err != nil {
		c.logger.Warn("tool response not sent", "tool", fc.Name, "id", fc.ID, "error", err)
	}
}

func (c *Client) onToolCallCancellation(m *protocol.ToolCallCancellation) {
	c.mu.Lock()
	for _, id := range m.IDs {
		delete(c.outstanding, id)
	}
	c.mu.Unlock()

	c.log(slog.LevelInfo, "server.toolCallCancellation", strings.Join(m.IDs, ", "))
	c.emit(ToolCallCancellationEvent{IDs: m.IDs})
}
