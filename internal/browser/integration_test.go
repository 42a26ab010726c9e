//go:build integration

package browser_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a11yeval/internal/browser"
)

const sampleDoc = `<!DOCTYPE html>
<html lang="en">
<head><title>Sample</title></head>
<body>
  <h1>Hello</h1>
  <div role="dialog" aria-label="Settings">settings</div>
  <button id="log">Log</button>
  <script>
    console.log("booted");
    document.getElementById("log").addEventListener("click", () => console.warn("clicked"));
  </script>
</body>
</html>`

func startManager(t *testing.T) (*browser.Manager, context.Context) {
	t.Helper()
	cfg := browser.DefaultConfig()
	cfg.NavigationTimeoutMs = 10000

	m := browser.NewManager(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() {
		if err := m.Shutdown(); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return m, ctx
}

func TestContextLoadQueryConsole(t *testing.T) {
	m, ctx := startManager(t)

	c, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Load(ctx, sampleDoc))

	els, err := c.Query(ctx, browser.RoleSelector("dialog"))
	require.NoError(t, err)
	assert.Len(t, els, 1)

	require.NoError(t, c.Click(ctx, "#log"))
	time.Sleep(200 * time.Millisecond)

	lines := c.DrainConsole()
	assert.NotEmpty(t, lines)
	// Buffer drains incrementally: a second drain starts empty.
	assert.Empty(t, c.DrainConsole())
}

func TestContextIsolation(t *testing.T) {
	m, ctx := startManager(t)

	first, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Load(ctx, sampleDoc))
	_, err = first.Evaluate(ctx, `() => { localStorage.setItem("leak", "yes"); return true; }`)
	require.NoError(t, err)
	first.Close()

	second, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Load(ctx, sampleDoc))
	raw, err := second.Evaluate(ctx, `() => localStorage.getItem("leak")`)
	require.NoError(t, err)
	assert.Nil(t, raw, "fresh context must not see prior session storage")
}

func TestContextCapture(t *testing.T) {
	m, ctx := startManager(t)

	c, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Load(ctx, sampleDoc))
	shot := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, c.Capture(ctx, shot))
}
