package ports

import "context"

// Renderer turns a template reference and a data context into output text.
// From the core's perspective rendering is a pure function; renderers are
// invoked without holding the session lock.
type Renderer interface {
	// Render resolves ref and renders it with data.
	Render(ctx context.Context, ref string, data map[string]any) (string, error)

	// Has reports whether ref resolves. Machine construction uses it to
	// fail fast on dangling template references.
	Has(ref string) bool
}
