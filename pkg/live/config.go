package live

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/protocol"
)

// Defaults for the Gemini Live service.
const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel    = "models/gemini-2.0-flash-exp"
	DefaultVoice    = "Aoede"
)

// KnownVoices are the prebuilt voices the service accepts.
var KnownVoices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// Config holds everything a session needs. It is passed once to New and
// never read from the environment.
type Config struct {
	// Credentials (one of)
	APIKey      string             `yaml:"api_key"`
	TokenSource oauth2.TokenSource `yaml:"-"` // Bearer tokens, e.g. from ADC

	// Service
	Endpoint string `yaml:"endpoint"` // Websocket URL (default: DefaultEndpoint)
	Model    string `yaml:"model"`    // "models/..." or a bare model name

	// Generation
	Voice           string            `yaml:"voice"`             // One of KnownVoices (default: Aoede)
	Modality        protocol.Modality `yaml:"modality"`          // TEXT or AUDIO (default: AUDIO)
	Temperature     float64           `yaml:"temperature"`       // 0.0-2.0 (default: 0.7)
	TopP            float64           `yaml:"top_p"`             // 0.0-1.0 (default: 0.8)
	TopK            int               `yaml:"top_k"`             // default: 40
	MaxOutputTokens int               `yaml:"max_output_tokens"` // 0 leaves it to the service

	SystemInstruction string `yaml:"system_instruction"`

	// Built-in service tools
	GoogleSearch  bool `yaml:"google_search"`
	CodeExecution bool `yaml:"code_execution"`

	// Greeting is sent as user text as soon as the session is Ready.
	Greeting string `yaml:"greeting"`

	// Timing
	SetupTimeout   time.Duration `yaml:"setup_timeout"`   // Wait for SetupComplete (default: 10s)
	CoalesceWindow time.Duration `yaml:"coalesce_window"` // Text part join window (default: 500ms)
	PingInterval   time.Duration `yaml:"ping_interval"`   // Websocket keepalive, 0 disables (default: 30s)

	// Audio
	OutputSampleRate int `yaml:"output_sample_rate"` // Rate of model audio without a rate tag (default: 24000)

	// SendQueueSize bounds outgoing messages waiting for the writer (default: 64).
	SendQueueSize int `yaml:"send_queue_size"`
}

// DefaultConfig returns a Config with the service defaults. Credentials are
// left empty.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Model:    DefaultModel,

		Voice:       DefaultVoice,
		Modality:    protocol.ModalityAudio,
		Temperature: 0.7,
		TopP:        0.8,
		TopK:        40,

		SetupTimeout:   10 * time.Second,
		CoalesceWindow: 500 * time.Millisecond,
		PingInterval:   30 * time.Second,

		OutputSampleRate: protocol.DefaultOutputSampleRate,
		SendQueueSize:    64,
	}
}

// WithDefaults returns a copy with unset endpoint, modality, timing, rate
// and queue fields taken from DefaultConfig. Generation parameters are kept
// as given, since zero is a valid value for them.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.Modality == "" {
		c.Modality = d.Modality
	}
	if c.SetupTimeout == 0 {
		c.SetupTimeout = d.SetupTimeout
	}
	if c.CoalesceWindow == 0 {
		c.CoalesceWindow = d.CoalesceWindow
	}
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	return c
}

// Validate checks the configuration. It never performs I/O. The returned
// error is an *Error of KindConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return newError(KindConfig, "validate", err)
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model required")
	}
	if c.APIKey == "" && c.TokenSource == nil {
		return errors.New("API key or token source required")
	}
	if c.Endpoint == "" {
		return errors.New("endpoint required")
	}
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// URL: %q", c.Endpoint)
	}
	if c.Voice != "" && !slices.Contains(KnownVoices, c.Voice) {
		return fmt.Errorf("unknown voice %q (known: %s)", c.Voice, strings.Join(KnownVoices, ", "))
	}
	switch c.Modality {
	case protocol.ModalityText, protocol.ModalityAudio:
	default:
		return fmt.Errorf("modality must be TEXT or AUDIO, got %q", c.Modality)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return errors.New("topP must be between 0 and 1")
	}
	if c.TopK < 0 || c.MaxOutputTokens < 0 {
		return errors.New("topK and maxOutputTokens must not be negative")
	}
	if c.SetupTimeout <= 0 {
		return errors.New("setup timeout must be positive")
	}
	if c.CoalesceWindow <= 0 {
		return errors.New("coalesce window must be positive")
	}
	if c.OutputSampleRate <= 0 {
		return errors.New("output sample rate must be positive")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("send queue size must be positive")
	}
	return nil
}

// WithAPIKey returns a copy with the API key set.
func (c Config) WithAPIKey(key string) Config {
	c.APIKey = key
	return c
}

// WithTokenSource returns a copy that authenticates with bearer tokens.
func (c Config) WithTokenSource(ts oauth2.TokenSource) Config {
	c.TokenSource = ts
	return c
}

// WithModel returns a copy with the model set.
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithVoice returns a copy with the voice set.
func (c Config) WithVoice(voice string) Config {
	c.Voice = voice
	return c
}

// WithModality returns a copy with the response modality set.
func (c Config) WithModality(m protocol.Modality) Config {
	c.Modality = m
	return c
}

// WithSystemInstruction returns a copy with the system instruction set.
func (c Config) WithSystemInstruction(text string) Config {
	c.SystemInstruction = text
	return c
}

// WithGreeting returns a copy that greets the model on connect.
func (c Config) WithGreeting(text string) Config {
	c.Greeting = text
	return c
}

// buildSetup renders the first message of the session.
func (c *Config) buildSetup(decls []*genai.FunctionDeclaration) *protocol.Setup {
	temp, topP, topK := c.Temperature, c.TopP, c.TopK
	gen := &protocol.GenerationConfig{
		Temperature:        &temp,
		TopP:               &topP,
		MaxOutputTokens:    c.MaxOutputTokens,
		ResponseModalities: []protocol.Modality{c.Modality},
	}
	if topK > 0 {
		gen.TopK = &topK
	}
	if c.Modality == protocol.ModalityAudio && c.Voice != "" {
		gen.SpeechConfig = &protocol.SpeechConfig{
			VoiceConfig: &protocol.VoiceConfig{
				PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: c.Voice},
			},
		}
	}

	setup := &protocol.Setup{
		Model:             protocol.NormalizeModel(c.Model),
		GenerationConfig:  gen,
		SystemInstruction: protocol.NewSystemInstruction(c.SystemInstruction),
	}
	if len(decls) > 0 {
		setup.Tools = append(setup.Tools, protocol.Tool{FunctionDeclarations: decls})
	}
	if c.GoogleSearch {
		setup.Tools = append(setup.Tools, protocol.Tool{GoogleSearch: &struct{}{}})
	}
	if c.CodeExecution {
		setup.Tools = append(setup.Tools, protocol.Tool{CodeExecution: &struct{}{}})
	}
	return setup
}
