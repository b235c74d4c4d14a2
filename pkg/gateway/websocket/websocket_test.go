package websocket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxbridge/pkg/gateway"
	wsgw "github.com/MrWong99/voxbridge/pkg/gateway/websocket"
)

// newAgent serves a fake remote agent. answer maps a request to its
// responses; returning nil closes the connection.
func newAgent(t *testing.T, answer func(wsgw.Request) []wsgw.Response) (url string, dials *atomic.Int32, auth chan string) {
	t.Helper()
	dials = &atomic.Int32{}
	auth = make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			var req wsgw.Request
			if err := wsjson.Read(r.Context(), conn, &req); err != nil {
				return
			}
			resps := answer(req)
			if resps == nil {
				return
			}
			for _, resp := range resps {
				if err := wsjson.Write(r.Context(), conn, resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), dials, auth
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestComplete_ReusesConnection(t *testing.T) {
	t.Parallel()
	url, dials, auth := newAgent(t, func(req wsgw.Request) []wsgw.Response {
		last := req.Messages[len(req.Messages)-1].Content
		return []wsgw.Response{{ID: req.ID, Text: "echo: " + last}}
	})
	b, err := wsgw.New(url, wsgw.WithHeader("Authorization", "Bearer t"), wsgw.WithName("agent"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	for _, text := range []string{"one", "two"} {
		reply, err := b.Complete(ctxT(t), []gateway.Message{{Role: gateway.RoleUser, Content: text}})
		if err != nil {
			t.Fatalf("Complete(%q): %v", text, err)
		}
		if reply != "echo: "+text {
			t.Errorf("reply = %q", reply)
		}
	}
	if n := dials.Load(); n != 1 {
		t.Errorf("dialled %d times, want 1", n)
	}
	if got := <-auth; got != "Bearer t" {
		t.Errorf("Authorization = %q", got)
	}
	if b.Name() != "agent" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestComplete_SkipsStaleResponses(t *testing.T) {
	t.Parallel()
	url, _, _ := newAgent(t, func(req wsgw.Request) []wsgw.Response {
		return []wsgw.Response{{ID: req.ID + 100, Text: "stale"}, {ID: req.ID, Text: "fresh"}}
	})
	b, _ := wsgw.New(url)
	t.Cleanup(func() { _ = b.Close() })

	reply, err := b.Complete(ctxT(t), []gateway.Message{{Role: gateway.RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "fresh" {
		t.Errorf("reply = %q, want fresh", reply)
	}
}

func TestComplete_RemoteError(t *testing.T) {
	t.Parallel()
	url, _, _ := newAgent(t, func(req wsgw.Request) []wsgw.Response {
		return []wsgw.Response{{ID: req.ID, Error: "rate limited"}}
	})
	b, _ := wsgw.New(url)
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.Complete(ctxT(t), []gateway.Message{{Role: gateway.RoleUser, Content: "x"}})
	if !errors.Is(err, wsgw.ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestComplete_RedialsAfterDrop(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	url, dials, _ := newAgent(t, func(req wsgw.Request) []wsgw.Response {
		if calls.Add(1) == 1 {
			return nil
		}
		return []wsgw.Response{{ID: req.ID, Text: "ok"}}
	})
	b, _ := wsgw.New(url)
	t.Cleanup(func() { _ = b.Close() })

	msgs := []gateway.Message{{Role: gateway.RoleUser, Content: "x"}}
	if _, err := b.Complete(ctxT(t), msgs); err == nil {
		t.Fatal("expected error when the agent drops the connection")
	}
	reply, err := b.Complete(ctxT(t), msgs)
	if err != nil {
		t.Fatalf("Complete after drop: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q", reply)
	}
	if n := dials.Load(); n != 2 {
		t.Errorf("dialled %d times, want 2", n)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := wsgw.New(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
