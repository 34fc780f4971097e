package protocol

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Wire formats.
const (
	// InputSampleRate is the only rate accepted for realtime audio input.
	InputSampleRate = 16000

	// DefaultOutputSampleRate is the rate of audio the service returns when
	// the MIME type does not say otherwise.
	DefaultOutputSampleRate = 24000

	pcmMediaType = "audio/pcm"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// PCMMimeType returns the MIME tag for little-endian PCM16 at rate.
func PCMMimeType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMediaType, rate)
}

// NewRealtimeAudio wraps one or more PCM16 buffers recorded at rate into a
// single RealtimeInput message, one media chunk per buffer.
func NewRealtimeAudio(rate int, pcm ...[]byte) *RealtimeInput {
	mimeType := PCMMimeType(rate)
	chunks := make([]Blob, 0, len(pcm))
	for _, p := range pcm {
		chunks = append(chunks, Blob{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(p),
		})
	}
	return &RealtimeInput{MediaChunks: chunks}
}

// NewUserText wraps text as a single complete user turn.
func NewUserText(text string) *ClientContent {
	return &ClientContent{
		Turns: []Content{{
			Role:  "user",
			Parts: []Part{{Text: text}},
		}},
		TurnComplete: true,
	}
}

// NewToolResponse builds the response to one function call. The output text
// is delivered as {"output": output}.
func NewToolResponse(id, name, output string) *ToolResponse {
	return &ToolResponse{
		FunctionResponses: []FunctionResponse{{
			ID:       id,
			Name:     name,
			Response: map[string]any{"output": output},
		}},
	}
}

// NewSystemInstruction wraps a system prompt as setup content.
func NewSystemInstruction(text string) *Content {
	if text == "" {
		return nil
	}
	return &Content{Parts: []Part{{Text: text}}}
}

// NormalizeModel prefixes bare model names with "models/".
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.HasPrefix(model, "models/") || strings.Contains(model, "/") {
		return model
	}
	return "models/" + model
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// ParsePCMRate reports whether mimeType names PCM audio and returns its
// sample rate. A PCM type without a rate parameter returns 0, true.
func ParsePCMRate(mimeType string) (int, bool) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil || mediaType != pcmMediaType {
		return 0, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, true
	}
	return rate, true
}

// FunctionNames returns the names of the calls in order.
func (t *ToolCall) FunctionNames() []string {
	names := make([]string, len(t.FunctionCalls))
	for i, fc := range t.FunctionCalls {
		names[i] = fc.Name
	}
	return names
}

// Text concatenates the text parts of the content.
func (s *ServerContent) Text() string {
	var b strings.Builder
	for _, p := range s.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
