package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Render(t *testing.T) {
	r, err := NewStatic(map[string]string{
		"greet": "Hello {{.name}}, you are in {{.state_name}}.",
	})
	require.NoError(t, err)

	assert.True(t, r.Has("greet"))
	assert.False(t, r.Has("missing"))

	out, err := r.Render(context.Background(), "greet", map[string]any{
		"name":       "Ada",
		"state_name": "Intro",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you are in Intro.", out)

	_, err = r.Render(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestStatic_RejectsMalformedTemplate(t *testing.T) {
	_, err := NewStatic(map[string]string{"bad": "{{.unclosed"})
	assert.Error(t, err)
}

func TestDir_LoadsTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "intro.tmpl"), []byte("welcome {{.session_id}}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "deep.tmpl"), []byte("deep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("nope"), 0o644))

	d, err := NewDir(root)
	require.NoError(t, err)
	defer d.Close()

	assert.True(t, d.Has("intro"))
	assert.True(t, d.Has("nested/deep"))
	assert.False(t, d.Has("ignored"))

	out, err := d.Render(context.Background(), "intro", map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "welcome s1", out)
}

func TestDir_WatchReloads(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	d, err := NewDir(root)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Watch())

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	assert.Eventually(t, func() bool {
		out, err := d.Render(context.Background(), "prompt", nil)
		return err == nil && out == "v2"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDir_BadReloadKeepsPreviousSet(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("good"), 0o644))

	d, err := NewDir(root)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Watch())

	require.NoError(t, os.WriteFile(path, []byte("{{.broken"), 0o644))

	// The previous parse stays serving.
	time.Sleep(200 * time.Millisecond)
	out, err := d.Render(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", out)
}
