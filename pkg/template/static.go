// Package template provides the renderers the engine consumes: an in-memory
// static set for embedded prompts and tests, and a directory renderer with
// hot reload for deployments that edit prompt files in place. Both implement
// ports.Renderer over text/template.
package template

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// Static renders from a fixed set of named template sources. The set is
// parsed once at construction and never changes.
type Static struct {
	templates map[string]*template.Template
}

// NewStatic parses the given sources. Construction fails on the first
// malformed template.
func NewStatic(sources map[string]string) (*Static, error) {
	s := &Static{templates: make(map[string]*template.Template, len(sources))}
	for name, src := range sources {
		t, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
		}
		s.templates[name] = t
	}
	return s, nil
}

// Render executes the named template with data.
func (s *Static) Render(ctx context.Context, ref string, data map[string]any) (string, error) {
	t, ok := s.templates[ref]
	if !ok {
		return "", fmt.Errorf("unknown template %q", ref)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", ref, err)
	}
	return b.String(), nil
}

// Has reports whether ref resolves.
func (s *Static) Has(ref string) bool {
	_, ok := s.templates[ref]
	return ok
}
