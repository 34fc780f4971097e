package audioio

import (
	"fmt"
	"log/slog"
	"sync"
)

// SourceFactory creates a Source for a backend.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

// SinkFactory creates a Sink for a backend.
type SinkFactory func(cfg Config, logger *slog.Logger) (Sink, error)

var (
	factoriesMu     sync.RWMutex
	sourceFactories = map[Backend]SourceFactory{}
	sinkFactories   = map[Backend]SinkFactory{}
)

// RegisterSource makes a source backend available to NewSource.
// Backends living in their own package call this from init().
func RegisterSource(b Backend, f SourceFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	sourceFactories[b] = f
}

// RegisterSink makes a sink backend available to NewSink.
func RegisterSink(b Backend, f SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	sinkFactories[b] = f
}

func init() {
	RegisterSource(BackendMock, func(cfg Config, logger *slog.Logger) (Source, error) {
		return NewMockSource(cfg, logger), nil
	})
	RegisterSink(BackendMock, func(cfg Config, logger *slog.Logger) (Sink, error) {
		return NewMockSink(cfg, logger), nil
	})
	RegisterSource(BackendPortAudio, newPortAudioSource)
	RegisterSink(BackendPortAudio, newPortAudioSink)
}

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend(logger)
		cfg.Backend = backend
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	factoriesMu.RLock()
	f, ok := sourceFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported source backend: %s", backend)
	}
	return f(cfg, logger)
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend(logger)
		cfg.Backend = backend
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	factoriesMu.RLock()
	f, ok := sinkFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported sink backend: %s (missing import?)", backend)
	}
	return f(cfg, logger)
}

// detectBestBackend returns PortAudio when it was compiled in.
func detectBestBackend(logger *slog.Logger) Backend {
	if portAudioAvailable {
		return BackendPortAudio
	}
	logger.Warn("portaudio not compiled in, falling back to mock audio (build with -tags portaudio)")
	return BackendMock
}

// AvailableBackends returns the backends registered in this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}

	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	if _, ok := sinkFactories[BackendRTP]; ok {
		backends = append(backends, BackendRTP)
	}
	return backends
}
