package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kbukum/polysome/llm"
)

func TestComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode: %v", err)
			}
			_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"hello there"},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}`))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewProvider(llm.Config{BaseURL: srv.URL, MaxTokens: 16})
	if !p.IsAvailable(context.Background()) {
		t.Fatal("expected available")
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello there" || resp.Usage.TotalTokens != 6 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.Stream {
		t.Error("expected non-streaming request")
	}
	if got.Model != defaultOllamaModel || got.Options.NumPredict != 16 || got.Options.Temperature != 0.3 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestUnavailable(t *testing.T) {
	p := NewProvider(llm.Config{BaseURL: "http://127.0.0.1:1"})
	if p.IsAvailable(context.Background()) {
		t.Error("expected unavailable")
	}
}
