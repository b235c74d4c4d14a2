package wsaudio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

var testFormat = audio.Format{SampleRate: 16000, FrameSize: 320}

func tone(n int) []int16 {
	f := make([]int16, n)
	for i := range f {
		if i%16 < 8 {
			f[i] = 4000
		} else {
			f[i] = -4000
		}
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startDevice(t *testing.T) (*Device, *audio.FrameBuffer, *audio.FrameBuffer, string) {
	t.Helper()
	d, err := New(testFormat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := audio.NewFrameBuffer(16, testFormat.FrameSize)
	out := audio.NewFrameBuffer(16, testFormat.FrameSize)
	if err := d.Start(context.Background(), in, out); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(d)
	t.Cleanup(func() {
		_ = d.Close()
		srv.Close()
	})
	return d, in, out, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDevice_Duplex(t *testing.T) {
	t.Parallel()
	d, in, out, url := startDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	client, err := newCodec(testFormat.SampleRate, testFormat.FrameSize)
	if err != nil {
		t.Fatalf("newCodec: %v", err)
	}
	for range 3 {
		pkt, err := client.encode(tone(testFormat.FrameSize))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	waitFor(t, "captured frames", func() bool { return in.Len() == 3 })
	if _, _, ok := in.LatestEnergy(); !ok {
		t.Error("no energy recorded for captured audio")
	}

	// An idle send loop counts each empty tick against the output buffer.
	waitFor(t, "output underflow", func() bool { return out.Stats().Underflows > 0 })

	out.Write(tone(testFormat.FrameSize), false, 0)
	typ, pkt, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageBinary {
		t.Fatalf("message type = %v, want binary", typ)
	}
	pcm, err := client.decode(pkt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != testFormat.FrameSize {
		t.Errorf("decoded %d samples, want %d", len(pcm), testFormat.FrameSize)
	}

	waitFor(t, "sent counter", func() bool { return d.Stats().PacketsSent == 1 })
	st := d.Stats()
	if !st.Connected || st.Connections != 1 || st.PacketsReceived != 3 || st.PacketsSent != 1 {
		t.Errorf("Stats = %+v", st)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "disconnect", func() bool { return !d.Stats().Connected })
}

func TestDevice_BadPacketCounted(t *testing.T) {
	t.Parallel()
	d, in, _, url := startDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"hello":true}`))
	// Code 3 packet announcing zero frames.
	_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x03, 0x00})
	waitFor(t, "decode error", func() bool { return d.Stats().DecodeErrors == 1 })
	if n := d.Stats().PacketsReceived; n != 1 {
		t.Errorf("PacketsReceived = %d, want 1", n)
	}
	if in.Len() != 0 {
		t.Errorf("input Len = %d, want 0", in.Len())
	}
}

func TestDevice_NotStarted(t *testing.T) {
	t.Parallel()
	d, _ := New(testFormat)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audio", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDevice_CloseDisconnects(t *testing.T) {
	t.Parallel()
	d, _, _, url := startDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	waitFor(t, "connect", func() bool { return d.Stats().Connected })

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("client still connected after Close")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		format audio.Format
		ok     bool
	}{
		{"16k 20ms", audio.Format{SampleRate: 16000, FrameSize: 320}, true},
		{"48k 10ms", audio.Format{SampleRate: 48000, FrameSize: 480}, true},
		{"44.1k", audio.Format{SampleRate: 44100, FrameSize: 441}, false},
		{"16k 30ms", audio.Format{SampleRate: 16000, FrameSize: 480}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.format)
			if (err == nil) != tt.ok {
				t.Errorf("New(%+v) err = %v, want ok=%v", tt.format, err, tt.ok)
			}
		})
	}
}
