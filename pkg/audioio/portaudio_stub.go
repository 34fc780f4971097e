//go:build !portaudio

package audioio

import (
	"fmt"
	"log/slog"
)

const portAudioAvailable = false

func newPortAudioSource(Config, *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: portaudio (build with -tags portaudio)", ErrUnsupported)
}

func newPortAudioSink(Config, *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: portaudio (build with -tags portaudio)", ErrUnsupported)
}
