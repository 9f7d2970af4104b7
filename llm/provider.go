package llm

import (
	"context"

	"github.com/kbukum/polysome/provider"
)

// Provider is the interface that LLM transports must implement.
type Provider interface {
	provider.Provider // embeds Name() and IsAvailable()

	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// AsRequestResponse exposes p as a RequestResponse so it can be wrapped with
// provider middleware.
func AsRequestResponse(p Provider) provider.RequestResponse[CompletionRequest, *CompletionResponse] {
	return &completer{p: p}
}

type completer struct{ p Provider }

func (c *completer) Name() string                         { return c.p.Name() }
func (c *completer) IsAvailable(ctx context.Context) bool { return c.p.IsAvailable(ctx) }
func (c *completer) Execute(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.p.Complete(ctx, req)
}
