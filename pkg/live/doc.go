// Package live is a realtime duplex client for the Gemini Multimodal Live API.
//
// A Client owns one websocket session. It negotiates the session with a
// setup handshake, sends microphone audio, text and tool results, and
// demultiplexes everything the service sends back into typed events.
//
// # Usage
//
//	cfg := live.DefaultConfig()
//	cfg.APIKey = os.Getenv("GEMINI_API_KEY")
//
//	client := live.New(cfg,
//	    live.WithCapture(capture),   // *audio.Capture
//	    live.WithPlayback(playback), // *audio.Playback
//	    live.WithDispatcher(registry),
//	)
//
//	live.Subscribe(client.Bus(), func(e live.ContentEvent) {
//	    fmt.Println("model:", e.Text)
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
// # Session states
//
// A session moves Idle → Connecting → AwaitingSetupAck → Ready → Closing →
// Closed. Failed is terminal and reachable from any state before Closing.
// Nothing but the setup message reaches the wire before the service
// acknowledges it.
//
// # Events
//
// Events are delivered in the order the underlying messages arrived, one at
// a time, on a goroutine owned by the client. Handlers may call back into
// the client, including Disconnect.
//
// # Errors
//
// Every session failure is an *Error carrying an ErrorKind. Use errors.Is
// with ErrConfig, ErrNetwork, ErrAuth, ErrProtocol, ErrTimeout or
// ErrDevice to branch on the cause. The client never reconnects on its own.
package live
