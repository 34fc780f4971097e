package live

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/protocol"
)

// Event is anything published on a session's Bus.
// Variants: OpenEvent, CloseEvent, ErrorEvent, LogEvent, AudioEvent,
// ContentEvent, ToolCallEvent, ToolCallCancellationEvent, InterruptedEvent,
// TurnCompleteEvent, StateEvent.
type Event interface {
	// EventName is the wire-level kind ("open", "content", ...).
	EventName() string
	isEvent()
}

// Event names.
const (
	EventOpen                 = "open"
	EventClose                = "close"
	EventError                = "error"
	EventLog                  = "log"
	EventAudio                = "audio"
	EventContent              = "content"
	EventToolCall             = "toolcall"
	EventToolCallCancellation = "toolcallcancellation"
	EventInterrupted          = "interrupted"
	EventTurnComplete         = "turncomplete"
	EventState                = "state"
)

// OpenEvent fires once, when the service acknowledges setup.
type OpenEvent struct {
	SessionID string `json:"session_id"`
}

// CloseEvent fires once, when the session reaches Closed.
type CloseEvent struct {
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ErrorEvent fires when the session fails. The session is fully torn down
// by the time it is delivered.
type ErrorEvent struct {
	Err *Error `json:"-"`
}

// LogEvent mirrors the client's own log lines for display.
type LogEvent struct {
	Time    time.Time  `json:"time"`
	Type    string     `json:"type"` // "client.send", "server.goaway", ...
	Message string     `json:"message"`
	Level   slog.Level `json:"level"`
}

// AudioEvent carries one chunk of model audio. It has already been handed
// to playback when delivered.
type AudioEvent struct {
	Frame audio.PlaybackFrame `json:"-"`
}

// ContentEvent carries coalesced model text.
type ContentEvent struct {
	Text string `json:"text"`
}

// ToolCallEvent asks for one or more functions to run.
type ToolCallEvent struct {
	Calls []protocol.FunctionCall `json:"calls"`
}

// ToolCallCancellationEvent withdraws earlier calls.
type ToolCallCancellationEvent struct {
	IDs []string `json:"ids"`
}

// InterruptedEvent means the user barged in. Playback has been flushed.
type InterruptedEvent struct{}

// TurnCompleteEvent closes a model turn.
type TurnCompleteEvent struct {
	Turn Turn `json:"turn"`
}

// StateEvent reports a state transition.
type StateEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (OpenEvent) EventName() string                 { return EventOpen }
func (CloseEvent) EventName() string                { return EventClose }
func (ErrorEvent) EventName() string                { return EventError }
func (LogEvent) EventName() string                  { return EventLog }
func (AudioEvent) EventName() string                { return EventAudio }
func (ContentEvent) EventName() string              { return EventContent }
func (ToolCallEvent) EventName() string             { return EventToolCall }
func (ToolCallCancellationEvent) EventName() string { return EventToolCallCancellation }
func (InterruptedEvent) EventName() string          { return EventInterrupted }
func (TurnCompleteEvent) EventName() string         { return EventTurnComplete }
func (StateEvent) EventName() string                { return EventState }

func (OpenEvent) isEvent()                 {}
func (CloseEvent) isEvent()                {}
func (ErrorEvent) isEvent()                {}
func (LogEvent) isEvent()                  {}
func (AudioEvent) isEvent()                {}
func (ContentEvent) isEvent()              {}
func (ToolCallEvent) isEvent()             {}
func (ToolCallCancellationEvent) isEvent() {}
func (InterruptedEvent) isEvent()          {}
func (TurnCompleteEvent) isEvent()         {}
func (StateEvent) isEvent()                {}

// MarshalJSON renders the error as text.
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	kind, msg := KindUnknown.String(), ""
	if e.Err != nil {
		kind, msg = e.Err.Kind.String(), e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{kind, msg})
}

// MarshalJSON renders frame metadata without the samples.
func (e AudioEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SampleRate int   `json:"sample_rate"`
		Samples    int   `json:"samples"`
		DurationMS int64 `json:"duration_ms"`
	}{e.Frame.SampleRate, len(e.Frame.Samples), e.Frame.Duration().Milliseconds()})
}
