package provider

import "context"

// Provider is the base interface every inference backend transport implements.
type Provider interface {
	// Name returns the provider's unique name.
	Name() string
	// IsAvailable checks if the provider is ready to handle requests.
	IsAvailable(ctx context.Context) bool
}

// Factory creates a provider instance from node parameters.
type Factory[T Provider] func(cfg map[string]any) (T, error)
