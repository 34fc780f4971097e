package audioio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"three channels", func(c *Config) { c.Channels = 3 }, true},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }, true},
		{"buffer shorter than a sample", func(c *Config) { c.SampleRate = 8000; c.BufferDuration = time.Microsecond }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigBufferSize(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.BufferSize(); got != 960 {
		t.Errorf("BufferSize() = %d, want 960", got)
	}
}

func TestRegistryClaim(t *testing.T) {
	r := NewRegistry()
	key := DeviceKey(Input, testConfig())
	if key != "mock/input/default" {
		t.Fatalf("DeviceKey() = %q", key)
	}

	release, err := r.Claim(key, "capture-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	if _, err := r.Claim(key, "capture-2"); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second claim: got %v, want ErrDeviceBusy", err)
	}
	if owner, _ := r.Holder(key); owner != "capture-1" {
		t.Errorf("holder = %q, want capture-1", owner)
	}

	// Other direction is a different device.
	if rel, err := r.Claim(DeviceKey(Output, testConfig()), "playback-1"); err != nil {
		t.Errorf("output claim: %v", err)
	} else {
		rel()
	}

	release()
	release() // idempotent

	if _, ok := r.Holder(key); ok {
		t.Error("device still held after release")
	}
	if _, err := r.Claim(key, "capture-2"); err != nil {
		t.Errorf("claim after release: %v", err)
	}
}

func TestRegistryStaleRelease(t *testing.T) {
	r := NewRegistry()
	release1, _ := r.Claim("k", "a")
	release1()
	_, err := r.Claim("k", "b")
	if err != nil {
		t.Fatal(err)
	}
	release1()
	if owner, _ := r.Holder("k"); owner != "b" {
		t.Errorf("stale release dropped claim of %q", owner)
	}
}

func TestMockSourceManual(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithManualTicks(), WithSineWave(440, 0.5))

	var got [][]float32
	if err := src.Start(context.Background(), func(s []float32) {
		got = append(got, append([]float32(nil), s...))
	}); err != nil {
		t.Fatal(err)
	}

	src.Tick()
	src.Tick()

	if len(got) != 2 {
		t.Fatalf("got %d buffers, want 2", len(got))
	}
	if len(got[0]) != 960 {
		t.Errorf("buffer len = %d, want 960", len(got[0]))
	}
	var peak float32
	for _, s := range got[0] {
		if s > peak {
			peak = s
		}
	}
	if peak < 0.4 || peak > 0.5 {
		t.Errorf("peak = %f, want ~0.5", peak)
	}

	if err := src.Start(context.Background(), func([]float32) {}); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("double start: got %v", err)
	}

	src.Stop()
	src.Stop()
	src.Tick()
	if len(got) != 2 {
		t.Error("tick after stop delivered a buffer")
	}

	select {
	case <-src.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if src.Err() != nil {
		t.Errorf("Err() = %v after clean stop", src.Err())
	}
}

func TestMockSourceFail(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithManualTicks())
	if err := src.Start(context.Background(), func([]float32) {}); err != nil {
		t.Fatal(err)
	}
	src.Fail(ErrDeviceLost)

	<-src.Done()
	if !errors.Is(src.Err(), ErrDeviceLost) {
		t.Errorf("Err() = %v, want ErrDeviceLost", src.Err())
	}
	if src.Running() {
		t.Error("still running after Fail")
	}
}

func TestMockSourceStartError(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithStartError(ErrPermissionDenied))
	err := src.Start(context.Background(), func([]float32) {})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("got %v, want ErrPermissionDenied", err)
	}
}

func TestMockSourceTicker(t *testing.T) {
	cfg := testConfig()
	cfg.BufferDuration = 5 * time.Millisecond

	src := NewMockSource(cfg, nil)
	ticks := make(chan struct{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx, func([]float32) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no buffer delivered")
	}

	cancel()
	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatal("context cancel did not stop source")
	}
}

func TestMockSinkPull(t *testing.T) {
	sink := NewMockSink(testConfig(), nil, WithManualPull(), WithRecording())

	var n int16
	if err := sink.Start(context.Background(), func(out []int16) {
		for i := range out {
			n++
			out[i] = n
		}
	}); err != nil {
		t.Fatal(err)
	}

	sink.Pull(3)
	sink.Pull(2)

	got := sink.Rendered()
	want := []int16{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("rendered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rendered %v, want %v", got, want)
		}
	}

	if st := sink.Stats(); st.SamplesRendered != 5 || st.BuffersRendered != 2 {
		t.Errorf("stats = %+v", st)
	}

	sink.Close()
	if sink.Pull(1) != nil {
		t.Error("pull after close rendered audio")
	}
	if err := sink.Start(context.Background(), func([]int16) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("start after close: %v", err)
	}
}

func TestRenderInterleaved(t *testing.T) {
	render := func(out []int16) {
		for i := range out {
			out[i] = int16(i + 1)
		}
	}
	out := make([]int16, 6)
	renderInterleaved(render, nil, out, 2)

	want := []int16{1, 1, 2, 2, 3, 3}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestNewSourceBackends(t *testing.T) {
	src, err := NewSource(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name() = %q", src.Name())
	}

	cfg := testConfig()
	cfg.Backend = "alsa"
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg = testConfig()
	cfg.Channels = 0
	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("expected validation error")
	}
}
