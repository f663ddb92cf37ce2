package lifecycle

import "context"

// Component is the lifecycle interface every managed component implements.
// The manager starts components in dependency order and stops them in
// reverse.
type Component interface {
	// Start initializes and starts the component. Must be idempotent.
	Start(ctx context.Context) error

	// Stop gracefully stops the component, finishing in-flight work within
	// the context deadline. A Stop error never prevents other components
	// from stopping.
	Stop(ctx context.Context) error

	// Name returns the component name used in logs and dependency
	// declarations. Must be non-empty.
	Name() string
}
