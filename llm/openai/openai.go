// Package openai is an llm transport for servers that expose the
// OpenAI-compatible chat completions API (vLLM, llama.cpp server, TGI).
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kbukum/polysome/llm"
)

const (
	// ProviderName is the registered name for the OpenAI-compatible provider.
	ProviderName = "openai"

	defaultBaseURL = "http://127.0.0.1:8000"
	defaultModel   = "default"
)

func init() {
	llm.Register(ProviderName, Factory)
}

// Provider implements llm.Provider against /v1/chat/completions.
type Provider struct {
	cfg    llm.Config
	client *http.Client
}

// NewProvider creates a new OpenAI-compatible provider.
func NewProvider(cfg llm.Config) *Provider {
	cfg.ApplyDefaults(defaultBaseURL, defaultModel)
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Factory creates a Provider from a generic config map.
func Factory(raw map[string]any) (llm.Provider, error) {
	cfg, err := llm.DecodeConfig(raw)
	if err != nil {
		return nil, err
	}
	return NewProvider(cfg), nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// BaseURL returns the resolved server root.
func (p *Provider) BaseURL() string { return p.cfg.BaseURL }

// IsAvailable reports whether the server lists its models.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return llm.Probe(ctx, p.client, p.cfg, p.cfg.BaseURL+"/v1/models")
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp chatResponse
	if err := llm.DoJSON(ctx, p.client, p.cfg, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", p.buildChatRequest(req), &resp); err != nil {
		return nil, fmt.Errorf("openai complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai complete: response has no choices")
	}
	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// --- wire types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

func (p *Provider) buildChatRequest(req llm.CompletionRequest) chatRequest {
	out := chatRequest{
		Model:       p.cfg.Model,
		Messages:    req.AllMessages(),
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		MaxTokens:   p.cfg.MaxTokens,
		Stop:        req.Stop,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.Temperature != 0 {
		out.Temperature = req.Temperature
	}
	if req.TopP != 0 {
		out.TopP = req.TopP
	}
	if req.MaxTokens != 0 {
		out.MaxTokens = req.MaxTokens
	}
	return out
}

// Close drops idle keep-alive connections to the server.
func (p *Provider) Close(_ context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}
