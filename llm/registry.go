package llm

import (
	"github.com/kbukum/polysome/provider"
)

var registry = provider.NewRegistry[Provider]()

// Register makes a provider factory available under name. Provider packages
// call it from init.
func Register(name string, factory provider.Factory[Provider]) {
	registry.RegisterFactory(name, factory)
}

// New creates the provider registered under name from cfg.
func New(name string, cfg map[string]any) (Provider, error) {
	return registry.Create(name, cfg)
}

// Providers lists the registered provider names.
func Providers() []string {
	return registry.List()
}
