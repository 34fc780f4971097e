package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformed is returned by Decode when a frame is not a JSON object or a
// known envelope carries a payload of the wrong shape.
var ErrMalformed = errors.New("protocol: malformed message")

// ServerMessage is a message received from the service.
// Variants: *SetupComplete, *ServerContent, *ToolCall, *ToolCallCancellation,
// *GoAway, *Unrecognized.
type ServerMessage interface {
	// Kind returns the envelope key ("setupComplete", "serverContent", ...).
	Kind() string
	isServerMessage()
}

// SetupComplete acknowledges the Setup message.
type SetupComplete struct{}

// ServerContent carries model output for the current turn.
type ServerContent struct {
	Parts        []ContentPart
	Interrupted  bool
	TurnComplete bool
}

// ToolCall asks the client to run one or more functions.
type ToolCall struct {
	FunctionCalls []FunctionCall
}

// FunctionCall is a single function invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallCancellation withdraws previously issued function calls.
type ToolCallCancellation struct {
	IDs []string
}

// GoAway announces that the service will close the connection soon.
type GoAway struct {
	TimeLeft string
}

// Unrecognized is a well-formed envelope with no known key. Newer service
// versions add message kinds; they are surfaced instead of failing the session.
type Unrecognized struct {
	Keys []string
	Raw  json.RawMessage
}

func (*SetupComplete) Kind() string        { return "setupComplete" }
func (*ServerContent) Kind() string        { return "serverContent" }
func (*ToolCall) Kind() string             { return "toolCall" }
func (*ToolCallCancellation) Kind() string { return "toolCallCancellation" }
func (*GoAway) Kind() string               { return "goAway" }
func (*Unrecognized) Kind() string         { return "unrecognized" }

func (*SetupComplete) isServerMessage()        {}
func (*ServerContent) isServerMessage()        {}
func (*ToolCall) isServerMessage()             {}
func (*ToolCallCancellation) isServerMessage() {}
func (*GoAway) isServerMessage()               {}
func (*Unrecognized) isServerMessage()         {}

// ContentPart is one part of a model turn.
// Variants: TextPart, AudioPart, BlobPart.
type ContentPart interface {
	isContentPart()
}

// TextPart is a fragment of streamed model text.
type TextPart struct {
	Text string
}

// AudioPart is decoded little-endian PCM16 audio.
type AudioPart struct {
	MimeType   string
	SampleRate int // 0 when the MIME type carries no rate
	PCM        []byte
}

// BlobPart is inline data that is not PCM audio.
type BlobPart struct {
	MimeType string
	Data     []byte
}

func (TextPart) isContentPart()  {}
func (AudioPart) isContentPart() {}
func (BlobPart) isContentPart()  {}

// wire shapes

type serverContentWire struct {
	ModelTurn *struct {
		Parts []Part `json:"parts"`
	} `json:"modelTurn"`
	Interrupted  bool `json:"interrupted"`
	TurnComplete bool `json:"turnComplete"`
	EndOfTurn    bool `json:"end_of_turn"`
}

type toolCallWire struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

type toolCallCancellationWire struct {
	IDs    []string `json:"ids"`
	CallID string   `json:"call_id"`
}

type goAwayWire struct {
	TimeLeft string `json:"timeLeft"`
}

// Decode parses one incoming frame into its ServerMessage variant.
func Decode(data []byte) (ServerMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	if _, ok := fields["setupComplete"]; ok {
		return &SetupComplete{}, nil
	}
	if raw, ok := fields["serverContent"]; ok {
		return decodeServerContent(raw)
	}
	if raw, ok := fields["toolCall"]; ok {
		return decodeToolCall(raw)
	}
	if raw, ok := fields["toolCallCancellation"]; ok {
		var w toolCallCancellationWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: toolCallCancellation: %v", ErrMalformed, err)
		}
		ids := w.IDs
		if w.CallID != "" {
			ids = append(ids, w.CallID)
		}
		return &ToolCallCancellation{IDs: ids}, nil
	}
	if raw, ok := fields["goAway"]; ok {
		var w goAwayWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: goAway: %v", ErrMalformed, err)
		}
		return &GoAway{TimeLeft: w.TimeLeft}, nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Unrecognized{Keys: keys, Raw: append(json.RawMessage(nil), data...)}, nil
}

func decodeServerContent(raw json.RawMessage) (*ServerContent, error) {
	var w serverContentWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: serverContent: %v", ErrMalformed, err)
	}

	sc := &ServerContent{
		Interrupted:  w.Interrupted,
		TurnComplete: w.TurnComplete || w.EndOfTurn,
	}
	if w.ModelTurn == nil {
		return sc, nil
	}

	for i, p := range w.ModelTurn.Parts {
		switch {
		case p.InlineData != nil:
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: part %d: %v", ErrMalformed, i, err)
			}
			if rate, ok := ParsePCMRate(p.InlineData.MimeType); ok {
				sc.Parts = append(sc.Parts, AudioPart{
					MimeType:   p.InlineData.MimeType,
					SampleRate: rate,
					PCM:        data,
				})
			} else {
				sc.Parts = append(sc.Parts, BlobPart{MimeType: p.InlineData.MimeType, Data: data})
			}
		case p.Text != "":
			sc.Parts = append(sc.Parts, TextPart{Text: p.Text})
		}
	}
	return sc, nil
}

func decodeToolCall(raw json.RawMessage) (*ToolCall, error) {
	var w toolCallWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: toolCall: %v", ErrMalformed, err)
	}

	tc := &ToolCall{FunctionCalls: make([]FunctionCall, 0, len(w.FunctionCalls))}
	for _, fc := range w.FunctionCalls {
		if strings.TrimSpace(fc.ID) == "" {
			return nil, fmt.Errorf("%w: function call %q has no id", ErrMalformed, fc.Name)
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		tc.FunctionCalls = append(tc.FunctionCalls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: args})
	}
	return tc, nil
}
