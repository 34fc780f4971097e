// live - realtime voice and text conversation with the Gemini Live API
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-live/internal/config"
	applog "github.com/teslashibe/go-live/internal/log"
	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/audioio"
	_ "github.com/teslashibe/go-live/pkg/audioio/rtpsink"
	"github.com/teslashibe/go-live/pkg/live"
	"github.com/teslashibe/go-live/pkg/metrics"
	"github.com/teslashibe/go-live/pkg/protocol"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/web"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	applog.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("❌ Session error: %v", err)
	}
}

// loadConfig reads the config file and applies command line flags on top.
func loadConfig() (config.Config, error) {
	path := flag.String("config", "", "YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	model := flag.String("model", "", "Model name (overrides LIVE_MODEL)")
	voice := flag.String("voice", "", "Voice: Puck, Charon, Kore, Fenrir, Aoede")
	text := flag.Bool("text", false, "Ask for text responses instead of audio")
	noAudio := flag.Bool("no-audio", false, "Run without microphone and speaker")
	greeting := flag.String("greeting", config.DefaultGreeting, "First message sent after connecting, empty to skip")
	relay := flag.String("relay", "", "Serve the dashboard relay on this address, e.g. :8181")
	rtp := flag.String("rtp", "", "Send model audio as Opus/RTP to host:port instead of the local speaker")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *model != "" {
		cfg.Live.Model = *model
	}
	if *voice != "" {
		cfg.Live.Voice = *voice
	}
	if *text {
		cfg.Live.Modality = protocol.ModalityText
	}
	if *noAudio {
		cfg.Audio.Disabled = true
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "greeting" {
			cfg.Live.Greeting = *greeting
		}
	})
	if *relay != "" {
		cfg.Relay.Addr = *relay
	}
	if *rtp != "" {
		cfg.Audio.Output = cfg.Audio.Output.WithBackend(audioio.BackendRTP).WithDevice(*rtp)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	logger := applog.L()

	lc, err := cfg.Credentials(ctx)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(tools.WithLogger(logger))
	registry.MustRegister(tools.DisplayText(func(text string) {
		fmt.Fprintf(out, "\n%s\n\n", text)
	}))
	if cfg.TavilyAPIKey != "" {
		registry.MustRegister(tools.TavilySearch())
	}

	opts := []live.Option{
		live.WithLogger(logger),
		live.WithDispatcher(registry),
	}
	devOpts, err := devices(cfg, lc.Modality)
	if err != nil {
		return err
	}
	client := live.New(lc, append(opts, devOpts...)...)
	bus := client.Bus()

	failed := make(chan struct{})
	var failOnce sync.Once
	live.Subscribe(bus, func(e live.ErrorEvent) {
		failOnce.Do(func() { close(failed) })
	})
	live.Subscribe(bus, func(e live.ContentEvent) {
		fmt.Fprintf(out, "Gemini: %s\n", e.Text)
	})
	live.Subscribe(bus, func(live.InterruptedEvent) {
		logger.Debug("model interrupted")
	})
	live.Subscribe(bus, func(e live.TurnCompleteEvent) {
		logger.Debug("turn complete",
			"text_latency", e.Turn.TextLatency,
			"audio_latency", e.Turn.AudioLatency,
			"duration", e.Turn.Duration,
			"interrupted", e.Turn.Interrupted)
	})

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Relay.Addr != "" {
		srvOpts := []web.Option{web.WithLogger(logger)}
		if cfg.Relay.Metrics {
			m := metrics.New(metrics.DefaultNamespace)
			m.Attach(bus)
			srvOpts = append(srvOpts, web.WithMetrics(m.Handler()))
		}
		if cfg.Relay.Static != "" {
			srvOpts = append(srvOpts, web.WithStatic(cfg.Relay.Static))
		}
		srv := web.NewServer(cfg.Relay.Addr, srvOpts...)
		srv.Attach(client, bus)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		// Ending the session ends the relay too.
		defer stop()
		defer client.Disconnect()

		if err := client.Connect(gctx); err != nil {
			return err
		}
		logger.Info("session ready", "session", client.SessionID(), "model", lc.Model, "modality", lc.Modality)
		go readInput(gctx, in, client)

		select {
		case <-gctx.Done():
		case <-client.Done():
		case <-failed:
		}
		client.Disconnect()
		<-client.Done()
		return client.Err()
	})

	return g.Wait()
}

// devices opens the capture and playback devices configured for the
// session. Text sessions get a microphone but no speaker.
func devices(cfg config.Config, modality protocol.Modality) ([]live.Option, error) {
	if cfg.Audio.Disabled {
		return nil, nil
	}
	logger := applog.L()
	var opts []live.Option

	src, err := audioio.NewSource(cfg.Audio.Input, logger)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}
	opts = append(opts, live.WithCapture(audio.NewCapture(src, audio.WithLogger(logger))))

	if modality == protocol.ModalityAudio {
		sink, err := audioio.NewSink(cfg.Audio.Output, logger)
		if err != nil {
			return nil, fmt.Errorf("speaker: %w", err)
		}
		opts = append(opts, live.WithPlayback(audio.NewPlayback(sink, audio.WithLogger(logger))))
	}
	return opts, nil
}

// readInput sends each non-empty line of in as user text.
func readInput(ctx context.Context, in io.Reader, client *live.Client) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := client.SendText(line); err != nil {
			if errors.Is(err, live.ErrClosed) || errors.Is(err, live.ErrNotReady) {
				return
			}
			applog.Warn("send text", "error", err)
		}
	}
}
