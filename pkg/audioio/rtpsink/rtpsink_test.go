package rtpsink

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-live/pkg/audioio"
)

func TestNewRejectsOpusIncompatibleConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*audioio.Config)
	}{
		{"44.1k", func(c *audioio.Config) { c.SampleRate = 44100 }},
		{"15ms frames", func(c *audioio.Config) { c.BufferDuration = 15 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := audioio.DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSinkStreamsOpusRTP(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := audioio.DefaultConfig().WithBackend(audioio.BackendRTP).WithDevice(ln.LocalAddr().String())
	sink, err := audioio.NewSink(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if err := sink.Start(context.Background(), func(out []int16) {
		for i := range out {
			out[i] = int16((i % 48) * 500)
		}
	}); err != nil {
		t.Fatal(err)
	}

	dec, err := opus.NewDecoder(48000, 1)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2048)
	pcm := make([]int16, 5760)
	var prev *rtp.Packet
	for i := 0; i < 3; i++ {
		ln.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := ln.Read(buf)
		if err != nil {
			t.Fatalf("read packet %d: %v", i, err)
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if pkt.PayloadType != PayloadType {
			t.Errorf("payload type = %d, want %d", pkt.PayloadType, PayloadType)
		}

		samples, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if samples != 960 {
			t.Errorf("decoded %d samples, want 960", samples)
		}

		if prev != nil {
			if pkt.SequenceNumber != prev.SequenceNumber+1 {
				t.Errorf("sequence %d after %d", pkt.SequenceNumber, prev.SequenceNumber)
			}
			if pkt.Timestamp-prev.Timestamp != 960 {
				t.Errorf("timestamp step = %d, want 960", pkt.Timestamp-prev.Timestamp)
			}
			if pkt.SSRC != prev.SSRC {
				t.Error("ssrc changed mid-stream")
			}
		}
		prev = &pkt
	}

	sink.Stop()
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	if sink.Err() != nil {
		t.Errorf("Err() = %v", sink.Err())
	}
}
