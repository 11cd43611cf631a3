package template

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultExt = ".tmpl"

// Dir renders templates from a directory tree. Template references are
// slash-separated paths relative to the root, without the extension. With
// watching enabled, edits to the tree reload the whole set.
type Dir struct {
	root    string
	ext     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	templates map[string]*texttemplate.Template

	done chan struct{}
}

// DirOption configures the directory renderer.
type DirOption func(*Dir)

// WithExtension overrides the template file extension, default ".tmpl".
func WithExtension(ext string) DirOption {
	return func(d *Dir) {
		if ext != "" {
			d.ext = ext
		}
	}
}

// WithLogger configures a logger for reload events.
func WithLogger(logger *slog.Logger) DirOption {
	return func(d *Dir) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDir loads every template under root. Construction fails if the root
// cannot be read or any template is malformed.
func NewDir(root string, opts ...DirOption) (*Dir, error) {
	d := &Dir{
		root:   root,
		ext:    defaultExt,
		logger: logging.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Watch starts reloading the set whenever files under the root change.
func (d *Dir) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(d.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", d.root, err)
	}
	d.watcher = watcher
	go d.watch()
	return nil
}

// Close stops the watcher, if one was started.
func (d *Dir) Close() error {
	close(d.done)
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

func (d *Dir) watch() {
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := d.reload(); err != nil {
				d.logger.Warn("template reload failed, keeping previous set",
					"path", ev.Name, "err", err)
				continue
			}
			d.logger.Info("templates reloaded", "path", ev.Name)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("template watcher error", "err", err)
		}
	}
}

// reload parses the full tree and swaps the set atomically. A parse failure
// leaves the previous set in place.
func (d *Dir) reload() error {
	next := make(map[string]*texttemplate.Template)
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, d.ext) {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(strings.TrimSuffix(rel, d.ext))

		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %q: %w", name, err)
		}
		t, err := texttemplate.New(name).Option("missingkey=zero").Parse(string(src))
		if err != nil {
			return fmt.Errorf("failed to parse template %q: %w", name, err)
		}
		next[name] = t
		return nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.templates = next
	d.mu.Unlock()
	return nil
}

// Render executes the referenced template with data.
func (d *Dir) Render(ctx context.Context, ref string, data map[string]any) (string, error) {
	d.mu.RLock()
	t, ok := d.templates[ref]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", ref)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", ref, err)
	}
	return b.String(), nil
}

// Has reports whether ref resolves in the current set.
func (d *Dir) Has(ref string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.templates[ref]
	return ok
}
