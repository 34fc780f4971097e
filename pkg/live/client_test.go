package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live/pkg/audio"
	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/tools"
)

func captureFrame() audio.CaptureFrame {
	return audio.CaptureFrame{Samples: make([]int16, 320), SampleRate: audio.CaptureRate}
}

func TestClientNoSendsBeforeSetupComplete(t *testing.T) {
	ft := newFakeTransport()
	c := New(testConfig(), WithDialer(&fakeDialer{transport: ft}))
	defer c.Disconnect()

	// Idle
	assert.ErrorIs(t, c.SendText("hi"), ErrNotReady)
	assert.NoError(t, c.SendRealtime(captureFrame()))

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()
	env := ft.nextWrite(t)
	require.Contains(t, env, "setup")
	require.Eventually(t, func() bool { return c.State() == StateAwaitingSetupAck }, time.Second, time.Millisecond)

	// AwaitingSetupAck
	assert.ErrorIs(t, c.SendText("hi"), ErrNotReady)
	assert.ErrorIs(t, c.SendToolResponse("tc-1", "f", "x"), ErrNotReady)
	assert.NoError(t, c.SendRealtime(captureFrame(), captureFrame()))

	ft.push(t, `{"setupComplete":{}}`)
	require.NoError(t, <-errc)

	// Only the setup message reached the wire.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ft.written(), 1)

	require.NoError(t, c.SendText("now"))
	env = ft.nextWrite(t)
	assert.Contains(t, env, "clientContent")
}

func TestClientSetupMessage(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(tools.DisplayText(func(string) {}))

	cfg := testConfig().WithModel("gemini-2.0-flash-exp").WithVoice("Puck").WithSystemInstruction("be brief")
	cfg.GoogleSearch = true

	ft := newFakeTransport()
	d := &fakeDialer{transport: ft}
	c := New(cfg, WithDialer(d), WithDispatcher(reg))
	defer c.Disconnect()

	go c.Connect(context.Background())
	env := ft.nextWrite(t)

	var setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		Tools []map[string]json.RawMessage `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(env["setup"], &setup))

	assert.Equal(t, "models/gemini-2.0-flash-exp", setup.Model)
	assert.Equal(t, []string{"AUDIO"}, setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, "Puck", setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Len(t, setup.SystemInstruction.Parts, 1)
	assert.Equal(t, "be brief", setup.SystemInstruction.Parts[0].Text)
	require.Len(t, setup.Tools, 2)
	assert.Contains(t, setup.Tools[0], "functionDeclarations")
	assert.Contains(t, setup.Tools[1], "googleSearch")

	assert.Equal(t, "test-key", d.header.Get("x-goog-api-key"))
}

func TestClientDisconnectIdempotent(t *testing.T) {
	capture, playback := &fakeDevice{}, &fakeDevice{}
	c, ft, rec := connectFake(t, testConfig(), WithCapture(capture), WithPlayback(playback))

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}

	assert.Equal(t, StateClosed, c.State())
	assert.True(t, ft.isClosed())
	assert.Equal(t, 1, rec.count(EventClose))

	closed := 0
	for _, e := range rec.all() {
		if se, ok := e.(StateEvent); ok && se.To == StateClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)

	for name, d := range map[string]*fakeDevice{"capture": capture, "playback": playback} {
		starts, stops, _ := d.counts()
		assert.Equal(t, 1, starts, name)
		assert.Equal(t, 1, stops, name)
	}

	// Sends fail fast after disconnect.
	assert.ErrorIs(t, c.SendText("late"), ErrNotReady)
	assert.ErrorIs(t, c.SendToolResponse("x", "y", "z"), ErrNotReady)
	assert.NoError(t, c.SendRealtime(captureFrame()))
}

func TestClientDisconnectBeforeConnect(t *testing.T) {
	d := &fakeDialer{transport: newFakeTransport()}
	c := New(testConfig(), WithDialer(d))
	rec := record(c)

	require.NoError(t, c.Disconnect())
	<-c.Done()

	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, rec.count(EventClose))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.Zero(t, d.dials.Load())
}

func TestClientConnectTwice(t *testing.T) {
	c, _, _ := connectFake(t, testConfig())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyStarted)
}

func TestClientEventOrder(t *testing.T) {
	_, ft, rec := connectFake(t, testConfig())

	ft.push(t, textContent("thinking", false))
	ft.push(t, `{"toolCall":{"functionCalls":[{"id":"tc-1","name":"lookup","args":{}}]}}`)
	ft.push(t, audioContent(240, false))
	ft.push(t, `{"toolCallCancellation":{"ids":["tc-1"]}}`)
	ft.push(t, textContent("done", true))

	rec.waitFor(t, EventTurnComplete, 1)
	assert.Equal(t, []string{
		EventOpen,
		EventContent,
		EventToolCall,
		EventAudio,
		EventToolCallCancellation,
		EventContent,
		EventTurnComplete,
	}, rec.names())
}

func TestClientTextCoalescing(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want []string
	}{
		{"within window", 100 * time.Millisecond, []string{"Hello world"}},
		{"outside window", 800 * time.Millisecond, []string{"Hello", "world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ft, rec := connectFake(t, testConfig())

			ft.push(t, textContent("Hello", false))
			time.Sleep(tt.gap)
			ft.push(t, textContent("world", false))
			time.Sleep(800 * time.Millisecond)

			var got []string
			for _, e := range rec.all() {
				if ce, ok := e.(ContentEvent); ok {
					got = append(got, ce.Text)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientTurnCompleteFlushesText(t *testing.T) {
	_, ft, rec := connectFake(t, testConfig())

	ft.push(t, textContent("Hi", false))
	ft.push(t, textContent("there", true))
	rec.waitFor(t, EventTurnComplete, 1)

	// No waiting for the window: the turn boundary flushed the text.
	assert.Equal(t, []string{EventOpen, EventContent, EventTurnComplete}, rec.names())
}

func TestClientToolResponseRoundTrip(t *testing.T) {
	c, ft, rec := connectFake(t, testConfig())

	ft.push(t, `{"toolCall":{"functionCalls":[{"id":"tc-1","name":"lookup","args":{"q":"go"}}]}}`)
	rec.waitFor(t, EventToolCall, 1)
	assert.Equal(t, 1, c.Stats().OutstandingTools)

	require.NoError(t, c.SendToolResponse("tc-1", "lookup", "result text"))

	env := ft.nextWrite(t)
	require.Contains(t, env, "toolResponse")
	var resp struct {
		FunctionResponses []struct {
			ID       string         `json:"id"`
			Name     string         `json:"name"`
			Response map[string]any `json:"response"`
		} `json:"functionResponses"`
	}
	require.NoError(t, json.Unmarshal(env["toolResponse"], &resp))
	require.Len(t, resp.FunctionResponses, 1)
	assert.Equal(t, "tc-1", resp.FunctionResponses[0].ID)
	assert.Equal(t, "result text", resp.FunctionResponses[0].Response["output"])

	time.Sleep(20 * time.Millisecond)
	responses := 0
	for _, w := range ft.written() {
		var e map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w, &e))
		if _, ok := e["toolResponse"]; ok {
			responses++
		}
	}
	assert.Equal(t, 1, responses)
	assert.Equal(t, 0, c.Stats().OutstandingTools)

	for _, e := range rec.all() {
		if le, ok := e.(LogEvent); ok {
			assert.NotContains(t, le.Message, "unknown call id")
		}
	}
}

func TestClientUnmatchedToolResponseForwarded(t *testing.T) {
	c, ft, rec := connectFake(t, testConfig())

	require.NoError(t, c.SendToolResponse("nope", "lookup", "x"))
	env := ft.nextWrite(t)
	assert.Contains(t, env, "toolResponse")

	require.Eventually(t, func() bool {
		for _, e := range rec.all() {
			if le, ok := e.(LogEvent); ok && le.Type == "client.toolResponse" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestClientDispatcherAnswersToolCalls(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(tools.Tool{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return "echo " + args["v"].(string), nil
		},
	})

	_, ft, _ := connectFake(t, testConfig(), WithDispatcher(reg))
	ft.push(t, `{"toolCall":{"functionCalls":[{"id":"call-7","name":"echo","args":{"v":"ping"}}]}}`)

	env := ft.nextWrite(t)
	require.Contains(t, env, "toolResponse")
	assert.Contains(t, string(env["toolResponse"]), `"call-7"`)
	assert.Contains(t, string(env["toolResponse"]), `"echo ping"`)
}

func TestClientInterruptFlushesPlayback(t *testing.T) {
	cfg := audioio.DefaultConfig().WithBackend(audioio.BackendMock)
	cfg.SampleRate = 24000
	sink := audioio.NewMockSink(cfg, nil, audioio.WithManualPull())
	pb := audio.NewPlayback(sink, audio.WithRegistry(audioio.NewRegistry()))

	_, ft, rec := connectFake(t, testConfig(), WithPlayback(pb))

	for i := 0; i < 3; i++ {
		ft.push(t, audioContent(480, false))
	}
	rec.waitFor(t, EventAudio, 3)
	assert.Equal(t, 3, pb.Stats().QueuedFrames)

	// F4 arrives in the same message as the interruption.
	ft.push(t, audioContent(240, true))
	rec.waitFor(t, EventAudio, 4)

	st := pb.Stats()
	assert.Equal(t, 1, st.QueuedFrames)
	assert.Equal(t, int64(240), st.Cursor, "F4 must start at the device clock")
	assert.Equal(t, 1, rec.count(EventInterrupted))
}

func TestClientSetupTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SetupTimeout = 100 * time.Millisecond
	playback := &fakeDevice{}

	ft := newFakeTransport()
	c := New(cfg, WithDialer(&fakeDialer{transport: ft}), WithPlayback(playback))
	rec := record(c)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, StateFailed, c.State())
	assert.True(t, ft.isClosed())

	rec.waitFor(t, EventError, 1)
	_, stops, _ := playback.counts()
	assert.Equal(t, 1, stops, "teardown happens before the error event")

	require.NoError(t, c.Disconnect())
	<-c.Done()
	assert.Equal(t, StateClosed, c.State())
	_, stops, _ = playback.counts()
	assert.Equal(t, 1, stops)
}

func TestClientConnectContextCancelled(t *testing.T) {
	capture, playback := &fakeDevice{}, &fakeDevice{}
	ft := newFakeTransport()
	c := New(testConfig(), WithDialer(&fakeDialer{transport: ft}), WithCapture(capture), WithPlayback(playback))
	rec := record(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(ctx) }()

	// The setup is never acknowledged.
	require.Contains(t, ft.nextWrite(t), "setup")
	require.Eventually(t, func() bool { return c.State() == StateAwaitingSetupAck }, time.Second, time.Millisecond)
	cancel()

	err := <-errc
	require.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, StateFailed, c.State())
	assert.True(t, ft.isClosed())

	rec.waitFor(t, EventError, 1)
	for name, dev := range map[string]*fakeDevice{"capture": capture, "playback": playback} {
		_, stops, _ := dev.counts()
		assert.Equal(t, 1, stops, name)
	}

	require.NoError(t, c.Disconnect())
	<-c.Done()
	assert.Equal(t, StateClosed, c.State())
}

func TestClientSetupCompleteBeatsDeadline(t *testing.T) {
	expired := make(chan time.Time)
	close(expired)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Acknowledgement, deadline and cancellation are all ready at once.
	for i := 0; i < 50; i++ {
		c := New(testConfig())
		c.signalReady(nil)
		require.NoError(t, c.awaitSetup(ctx, expired))
		assert.Nil(t, c.Err())
	}
}

func TestClientAppliesConfigDefaults(t *testing.T) {
	c := New(Config{Model: "models/gemini-2.0-flash-exp", APIKey: "k"})
	cfg := c.Config()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.SetupTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.CoalesceWindow)
	assert.Equal(t, 64, cfg.SendQueueSize)
}

func TestClientConfigErrorBeforeIO(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no credentials", func(c *Config) { c.APIKey = "" }},
		{"no model", func(c *Config) { c.Model = "" }},
		{"bad voice", func(c *Config) { c.Voice = "Robot" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			d := &fakeDialer{transport: newFakeTransport()}
			dev := &fakeDevice{}
			c := New(cfg, WithDialer(d), WithCapture(dev))

			err := c.Connect(context.Background())
			require.ErrorIs(t, err, ErrConfig)
			assert.Equal(t, StateFailed, c.State())
			assert.Zero(t, d.dials.Load())
			starts, _, _ := dev.counts()
			assert.Zero(t, starts)
			c.Disconnect()
		})
	}
}

func TestClientDeviceError(t *testing.T) {
	d := &fakeDialer{transport: newFakeTransport()}
	capture := &fakeDevice{startErr: &audio.DeviceError{Op: "capture", Device: "mock/input/default", Err: audioio.ErrDeviceBusy}}
	playback := &fakeDevice{}
	c := New(testConfig(), WithDialer(d), WithCapture(capture), WithPlayback(playback))
	defer c.Disconnect()

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, audio.ErrDevice)
	assert.Zero(t, d.dials.Load())

	_, stops, _ := playback.counts()
	assert.Equal(t, 1, stops, "playback released when capture fails")
}

func TestClientProtocolErrorBeforeSetupComplete(t *testing.T) {
	ft := newFakeTransport()
	c := New(testConfig(), WithDialer(&fakeDialer{transport: ft}))
	defer c.Disconnect()

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()
	ft.nextWrite(t)
	ft.push(t, textContent("too early", false))

	err := <-errc
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateFailed, c.State())
}

func TestClientMalformedFrame(t *testing.T) {
	c, ft, rec := connectFake(t, testConfig())

	ft.push(t, `not json`)
	rec.waitFor(t, EventError, 1)
	assert.Equal(t, StateFailed, c.State())
	assert.ErrorIs(t, c.Err(), ErrProtocol)
}

func TestClientServerClose(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		text      string
		wantState State
		wantErr   error
	}{
		{"normal", websocket.CloseNormalClosure, "bye", StateClosed, nil},
		{"policy violation", websocket.ClosePolicyViolation, "", StateFailed, ErrAuth},
		{"invalid api key", websocket.CloseInvalidFramePayloadData, "API key not valid. Please pass a valid API key.", StateFailed, ErrAuth},
		{"abnormal", websocket.CloseAbnormalClosure, "", StateFailed, ErrNetwork},
		{"internal error", websocket.CloseInternalServerErr, "", StateFailed, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft, rec := connectFake(t, testConfig())
			ft.serverClose(tt.code, tt.text)

			require.Eventually(t, func() bool { return c.State() == tt.wantState }, time.Second, 5*time.Millisecond)
			if tt.wantErr == nil {
				<-c.Done()
				assert.Nil(t, c.Err())
				var ce CloseEvent
				for _, e := range rec.all() {
					if v, ok := e.(CloseEvent); ok {
						ce = v
					}
				}
				assert.Equal(t, CloseEvent{Code: tt.code, Reason: tt.text}, ce)
				return
			}
			assert.ErrorIs(t, c.Err(), tt.wantErr)
			rec.waitFor(t, EventError, 1)
		})
	}
}

func TestClientUnrecognizedMessageIsNotFatal(t *testing.T) {
	c, ft, rec := connectFake(t, testConfig())

	ft.push(t, `{"usageMetadata":{"totalTokenCount":12}}`)
	ft.push(t, `{"goAway":{"timeLeft":"10s"}}`)
	ft.push(t, textContent("still here", true))

	rec.waitFor(t, EventTurnComplete, 1)
	assert.Equal(t, StateReady, c.State())

	var types []string
	for _, e := range rec.all() {
		if le, ok := e.(LogEvent); ok && le.Level == slog.LevelWarn {
			types = append(types, le.Type)
		}
	}
	assert.Contains(t, types, "server.unrecognized")
	assert.Contains(t, types, "server.goAway")
}

func TestClientGreeting(t *testing.T) {
	_, ft, _ := connectFake(t, testConfig().WithGreeting("Hello!"))

	env := ft.nextWrite(t)
	require.Contains(t, env, "clientContent")
	assert.Contains(t, string(env["clientContent"]), `"Hello!"`)
	assert.Contains(t, string(env["clientContent"]), `"turnComplete":true`)
}

func TestClientSendRealtime(t *testing.T) {
	c, ft, _ := connectFake(t, testConfig())

	require.NoError(t, c.SendRealtime(captureFrame(), captureFrame()))
	env := ft.nextWrite(t)

	var ri struct {
		MediaChunks []struct {
			MimeType string `json:"mimeType"`
			Data     string `json:"data"`
		} `json:"mediaChunks"`
	}
	require.NoError(t, json.Unmarshal(env["realtimeInput"], &ri))
	require.Len(t, ri.MediaChunks, 2)
	assert.Equal(t, "audio/pcm;rate=16000", ri.MediaChunks[0].MimeType)
	assert.NotEmpty(t, ri.MediaChunks[0].Data)
}

func TestClientCaptureWiring(t *testing.T) {
	reg := audioio.NewRegistry()
	srcCfg := audioio.DefaultConfig().WithBackend(audioio.BackendMock)
	src := audioio.NewMockSource(srcCfg, nil, audioio.WithManualTicks())
	capture := audio.NewCapture(src, audio.WithRegistry(reg))

	c, ft, _ := connectFake(t, testConfig(), WithCapture(capture))
	require.True(t, capture.Running())

	src.Tick()
	env := ft.nextWrite(t)
	assert.Contains(t, env, "realtimeInput")

	require.NoError(t, c.Disconnect())
	assert.False(t, capture.Running())
	_, held := reg.Holder(audioio.DeviceKey(audioio.Input, srcCfg))
	assert.False(t, held, "device released on disconnect")
}

func TestClientDialErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &HandshakeError{StatusCode: 401, Err: websocket.ErrBadHandshake}, ErrAuth},
		{"forbidden", &HandshakeError{StatusCode: 403, Err: websocket.ErrBadHandshake}, ErrAuth},
		{"server error", &HandshakeError{StatusCode: 503, Err: websocket.ErrBadHandshake}, ErrNetwork},
		{"refused", errors.New("connection refused"), ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testConfig(), WithDialer(&fakeDialer{err: tt.err}))
			rec := record(c)

			err := c.Connect(context.Background())
			require.ErrorIs(t, err, tt.want)
			rec.waitFor(t, EventError, 1)
			c.Disconnect()
		})
	}
}
