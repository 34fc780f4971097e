// Package config loads the go-live command configuration from a YAML
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-live/internal/httpc"
	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/live"
	"github.com/teslashibe/go-live/pkg/protocol"
)

// DefaultGreeting is sent once the session opens.
const DefaultGreeting = "Hello!"

// ADC scopes for the Live API.
var adcScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// Config is the full command configuration.
type Config struct {
	Live  live.Config `yaml:"live"`
	Audio Audio       `yaml:"audio"`
	Relay Relay       `yaml:"relay"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// UseADC fetches bearer tokens from Application Default Credentials
	// when no API key is configured.
	UseADC bool `yaml:"use_adc"`

	// TavilyAPIKey enables the tavily_search tool declaration.
	TavilyAPIKey string `yaml:"-"`
}

// Audio selects the capture and playback devices.
type Audio struct {
	Disabled bool           `yaml:"disabled"` // Text-only session, no devices
	Input    audioio.Config `yaml:"input"`
	Output   audioio.Config `yaml:"output"`
}

// Relay configures the dashboard server.
type Relay struct {
	Addr    string `yaml:"addr"`    // Empty disables the relay
	Static  string `yaml:"static"`  // Optional directory served at /
	Metrics bool   `yaml:"metrics"` // Mount /metrics (default: true)
}

// Default returns the command defaults.
func Default() Config {
	lc := live.DefaultConfig()
	lc.Greeting = DefaultGreeting
	return Config{
		Live: lc,
		Audio: Audio{
			Input:  audioio.DefaultConfig(),
			Output: audioio.DefaultConfig(),
		},
		Relay:    Relay{Metrics: true},
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (optional),
// the given .env files (default ".env", missing files are skipped) and
// the process environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(envFiles)
	if err != nil {
		return cfg, err
	}
	cfg.applyEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	})
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readDotEnv merges .env files without touching the process environment.
func readDotEnv(files []string) (map[string]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	out := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
		for k, v := range vars {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := firstNonEmpty(getenv("GEMINI_API_KEY"), getenv("GOOGLE_API_KEY")); v != "" {
		c.Live.APIKey = v
	}
	if v := getenv("LIVE_ENDPOINT"); v != "" {
		c.Live.Endpoint = v
	}
	if v := getenv("LIVE_MODEL"); v != "" {
		c.Live.Model = v
	}
	if v := getenv("LIVE_VOICE"); v != "" {
		c.Live.Voice = v
	}
	if v := getenv("LIVE_MODALITY"); v != "" {
		c.Live.Modality = protocol.Modality(strings.ToUpper(v))
	}
	if v := getenv("LIVE_RELAY_ADDR"); v != "" {
		c.Relay.Addr = v
	}
	if v := getenv("LIVE_USE_ADC"); v != "" {
		c.UseADC, _ = strconv.ParseBool(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TAVILY_API_KEY"); v != "" {
		c.TavilyAPIKey = v
	}
}

// Credentials returns the live config with a token source attached when
// ADC is enabled and no API key is set. Token refreshes use the shared
// httpc client.
func (c Config) Credentials(ctx context.Context) (live.Config, error) {
	lc := c.Live
	if lc.APIKey != "" || !c.UseADC || lc.TokenSource != nil {
		return lc, nil
	}
	ts, err := google.DefaultTokenSource(httpc.OAuthContext(ctx, nil), adcScopes...)
	if err != nil {
		return lc, &live.Error{Kind: live.KindAuth, Op: "credentials", Err: err}
	}
	return lc.WithTokenSource(ts), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
