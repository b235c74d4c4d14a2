package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/gateway"
	"github.com/MrWong99/voxbridge/pkg/gateway/openai"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxCompletionTokens int `json:"max_completion_tokens"`
}

func newChatServer(t *testing.T, reply string, got chan<- chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	t.Parallel()
	got := make(chan chatRequest, 1)
	srv := newChatServer(t, "Hi! How can I help?", got)

	b, err := openai.New("test-key", "gpt-4o-mini", openai.WithBaseURL(srv.URL+"/"), openai.WithMaxTokens(64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != "openai:gpt-4o-mini" {
		t.Errorf("Name = %q", b.Name())
	}

	reply, err := b.Complete(context.Background(), []gateway.Message{
		{Role: gateway.RoleSystem, Content: "be brief"},
		{Role: gateway.RoleUser, Content: "hello"},
		{Role: gateway.RoleAssistant, Content: "hi"},
		{Role: gateway.RoleUser, Content: "what now"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Hi! How can I help?" {
		t.Errorf("reply = %q", reply)
	}

	req := <-got
	if req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxCompletionTokens != 64 {
		t.Errorf("max_completion_tokens = %d, want 64", req.MaxCompletionTokens)
	}
	if len(req.Messages) != 4 || req.Messages[0].Role != "system" || req.Messages[2].Role != "assistant" || req.Messages[3].Content != "what now" {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
}

func TestComplete_UnknownRole(t *testing.T) {
	t.Parallel()
	b, _ := openai.New("k", "m", openai.WithBaseURL("http://127.0.0.1:1/"))
	if _, err := b.Complete(context.Background(), []gateway.Message{{Role: "tool", Content: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", "m"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := openai.New("k", ""); err == nil {
		t.Error("expected error for empty model")
	}
}
