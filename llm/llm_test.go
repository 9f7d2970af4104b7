package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(map[string]any{
		"base_url":    "http://h:1",
		"model":       "m",
		"temperature": "0.2",
		"max_tokens":  64,
		"timeout":     "30s",
		"unrelated":   true,
	})
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.BaseURL != "http://h:1" || cfg.Model != "m" || cfg.MaxTokens != 64 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Temperature != 0.2 {
		t.Errorf("expected weakly typed temperature, got %v", cfg.Temperature)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Timeout)
	}
}

func TestDecodeConfigRejectsBadType(t *testing.T) {
	if _, err := DecodeConfig(map[string]any{"max_tokens": "lots"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{BaseURL: "http://h:1/"}
	cfg.ApplyDefaults("http://default", "m")
	if cfg.BaseURL != "http://h:1" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.Model != "m" || cfg.Timeout != DefaultTimeout {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestAllMessages(t *testing.T) {
	req := CompletionRequest{SystemPrompt: "sys", Messages: []Message{{Role: "user", Content: "hi"}}}
	msgs := req.AllMessages()
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if got := (CompletionRequest{Messages: req.Messages}).AllMessages(); len(got) != 1 {
		t.Errorf("expected no system message, got %+v", got)
	}
}

func TestDoJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("X-Test") != "1" {
			t.Errorf("missing headers: %v", r.Header)
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := Config{APIKey: "k", Headers: map[string]string{"X-Test": "1"}}
	err := DoJSON(context.Background(), srv.Client(), cfg, http.MethodPost, srv.URL, map[string]string{"a": "b"}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "overloaded" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if !Probe(context.Background(), srv.Client(), Config{}, srv.URL+"/ok") {
		t.Error("expected probe success")
	}
	if Probe(context.Background(), srv.Client(), Config{}, srv.URL+"/missing") {
		t.Error("expected probe failure")
	}
}

type stubProvider struct{ reply string }

func (s *stubProvider) Name() string                       { return "stub" }
func (s *stubProvider) IsAvailable(_ context.Context) bool { return true }
func (s *stubProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: s.reply + ":" + req.Messages[0].Content}, nil
}

func TestRegistryAndExecute(t *testing.T) {
	Register("stub", func(cfg map[string]any) (Provider, error) {
		return &stubProvider{reply: cfg["reply"].(string)}, nil
	})
	p, err := New("stub", map[string]any{"reply": "ok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := AsRequestResponse(p).Execute(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	if err != nil || resp.Content != "ok:q" {
		t.Errorf("got %+v, %v", resp, err)
	}
	if _, err := New("nope", nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
