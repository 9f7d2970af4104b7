package provider

import "context"

// Initializable is optionally implemented by providers that need setup
// before handling requests (e.g. probe a model list, warm a connection).
type Initializable interface {
	Init(ctx context.Context) error
}

// Closeable is optionally implemented by providers that hold resources
// requiring explicit cleanup (e.g. idle connections, a server subprocess).
type Closeable interface {
	Close(ctx context.Context) error
}

// Init calls p.Init if p implements Initializable.
func Init(ctx context.Context, p any) error {
	if i, ok := p.(Initializable); ok {
		return i.Init(ctx)
	}
	return nil
}

// Close calls p.Close if p implements Closeable.
func Close(ctx context.Context, p any) error {
	if c, ok := p.(Closeable); ok {
		return c.Close(ctx)
	}
	return nil
}
