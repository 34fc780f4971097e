// Package protocol defines the JSON message envelopes spoken over the
// Gemini Multimodal Live websocket.
//
// Outgoing and incoming messages are closed sum types: every variant of
// ClientMessage and ServerMessage is declared in this package, so callers
// can switch over them exhaustively instead of probing for field presence.
package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// ClientMessage is a message sent from the client to the service.
// Variants: *Setup, *RealtimeInput, *ClientContent, *ToolResponse.
type ClientMessage interface {
	// Kind returns the envelope key ("setup", "realtimeInput", ...).
	Kind() string
	isClientMessage()
}

// =============================================================================
// Setup
// =============================================================================

// Setup is the first message of every session. No other client message may
// be sent until the service answers with SetupComplete.
type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
}

// GenerationConfig holds the sampling and output parameters of a session.
type GenerationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	TopP               *float64      `json:"topP,omitempty"`
	TopK               *int          `json:"topK,omitempty"`
	MaxOutputTokens    int           `json:"maxOutputTokens,omitempty"`
	ResponseModalities []Modality    `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Modality is a response modality.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// SpeechConfig selects the synthesized voice.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// VoiceConfig wraps a prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// PrebuiltVoiceConfig names one of the service's prebuilt voices.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Tool is one entry of the setup tools list. Exactly one field is set.
type Tool struct {
	FunctionDeclarations []*genai.FunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}                    `json:"googleSearch,omitempty"`
	CodeExecution        *struct{}                    `json:"codeExecution,omitempty"`
}

func (*Setup) Kind() string      { return "setup" }
func (*Setup) isClientMessage() {}

// =============================================================================
// Realtime input
// =============================================================================

// RealtimeInput streams media chunks (microphone audio) to the service.
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// Blob is base64 encoded binary data tagged with its MIME type.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func (*RealtimeInput) Kind() string      { return "realtimeInput" }
func (*RealtimeInput) isClientMessage() {}

// =============================================================================
// Client content
// =============================================================================

// ClientContent appends turns to the conversation.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is an outgoing content part.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

func (*ClientContent) Kind() string      { return "clientContent" }
func (*ClientContent) isClientMessage() {}

// =============================================================================
// Tool response
// =============================================================================

// ToolResponse answers one or more FunctionCalls.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse is the result of a single FunctionCall.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

func (*ToolResponse) Kind() string      { return "toolResponse" }
func (*ToolResponse) isClientMessage() {}

// clientEnvelope is the wire wrapper; exactly one field is non-nil.
type clientEnvelope struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Encode serializes a client message into its JSON envelope.
func Encode(msg ClientMessage) ([]byte, error) {
	var env clientEnvelope
	switch m := msg.(type) {
	case *Setup:
		env.Setup = m
	case *RealtimeInput:
		env.RealtimeInput = m
	case *ClientContent:
		env.ClientContent = m
	case *ToolResponse:
		env.ToolResponse = m
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Kind(), err)
	}
	return data, nil
}
