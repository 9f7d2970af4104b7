// Package ollama is an llm transport for Ollama's native chat API.
package ollama

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kbukum/polysome/llm"
)

const (
	// ProviderName is the registered name for the Ollama provider.
	ProviderName = "ollama"

	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
)

func init() {
	llm.Register(ProviderName, Factory)
}

// Provider implements llm.Provider using Ollama's HTTP API.
type Provider struct {
	cfg    llm.Config
	client *http.Client
}

// NewProvider creates a new Ollama LLM provider.
func NewProvider(cfg llm.Config) *Provider {
	cfg.ApplyDefaults(defaultOllamaURL, defaultOllamaModel)
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

// IsAvailable checks if the Ollama server is reachable.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return llm.Probe(ctx, p.client, p.cfg, p.cfg.BaseURL+"/api/tags")
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp chatResponse
	if err := llm.DoJSON(ctx, p.client, p.cfg, http.MethodPost, p.cfg.BaseURL+"/api/chat", p.buildChatRequest(req), &resp); err != nil {
		return nil, fmt.Errorf("ollama complete: %w", err)
	}
	return &llm.CompletionResponse{
		Content:      resp.Message.Content,
		Model:        resp.Model,
		FinishReason: resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// --- internal Ollama API types ---

type chatOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         llm.Message `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// buildChatRequest creates an Ollama API request from a llm.CompletionRequest.
func (p *Provider) buildChatRequest(req llm.CompletionRequest) chatRequest {
	model := p.cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	opts := chatOptions{
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		NumPredict:  p.cfg.MaxTokens,
		Stop:        req.Stop,
	}
	if req.Temperature != 0 {
		opts.Temperature = req.Temperature
	}
	if req.TopP != 0 {
		opts.TopP = req.TopP
	}
	if req.MaxTokens != 0 {
		opts.NumPredict = req.MaxTokens
	}
	return chatRequest{
		Model:    model,
		Messages: req.AllMessages(),
		Stream:   false,
		Options:  opts,
	}
}

// Close drops idle keep-alive connections to the server.
func (p *Provider) Close(_ context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}
