// Package browser wraps go-rod to provide isolated rendering sessions for the
// execution harness. A Manager owns one shared headless Chromium process and a
// concurrency ceiling; each run acquires its own Context (a fresh incognito
// page) and releases it when done, so no session state leaks between runs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrLoad marks a content-load failure: the rendering capability rejected the
// markup. Fatal to the owning run.
var ErrLoad = errors.New("content load failed")

// Config holds browser configuration.
type Config struct {
	Headless            bool   `yaml:"headless"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	MaxContexts         int64  `yaml:"max_contexts"`
	DebuggerURL         string `yaml:"debugger_url"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
		MaxContexts:         4,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

func (c Config) ceiling() int64 {
	if c.MaxContexts <= 0 {
		return 4
	}
	return c.MaxContexts
}

// Manager owns the shared Chromium instance and enforces the ceiling on
// simultaneous execution contexts.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	browser *rod.Browser
	version string

	sem *semaphore.Weighted
}

// NewManager creates a manager. Start must be called before Acquire.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.ceiling()),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	if v, err := browser.Version(); err == nil {
		m.version = v.Product
	}
	m.browser = browser
	m.logger.Info("browser connected", zap.String("version", m.version))
	return nil
}

// BrowserVersion returns the connected browser's product identifier.
func (m *Manager) BrowserVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Shutdown closes the browser.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}

// Acquire blocks until a context slot is free, then opens a fresh incognito
// page. The returned Context must be closed exactly once; Close releases the
// slot regardless of how the run ended.
func (m *Manager) Acquire(ctx context.Context) (*Context, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire context slot: %w", err)
	}

	c, err := m.newContext(ctx)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}
	return c, nil
}

func (m *Manager) newContext(ctx context.Context) (*Context, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, errors.New("browser not started")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("set viewport", zap.Error(err))
	}

	tmpDir, err := os.MkdirTemp("", "a11yeval-*")
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("create content dir: %w", err)
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	c := &Context{
		page:       page,
		navTimeout: m.cfg.NavigationTimeout(),
		tmpDir:     tmpDir,
		logger:     m.logger,
		stopStream: stopStream,
		release: func() {
			m.sem.Release(1)
		},
	}
	c.startConsoleStream(streamCtx)
	return c, nil
}

// Context is one isolated rendering session. It is owned by exactly one run
// and must not be shared across concurrent runs.
type Context struct {
	page       *rod.Page
	navTimeout time.Duration
	tmpDir     string
	logger     *zap.Logger

	consoleMu  sync.Mutex
	console    []string
	stopStream context.CancelFunc

	lastContent string
	closeOnce   sync.Once
	release     func()
}

// startConsoleStream subscribes to CDP console events, appending formatted
// lines to an ordered buffer drained by DrainConsole.
func (c *Context) startConsoleStream(ctx context.Context) {
	wait := c.page.Context(ctx).EachEvent(func(ev *proto.RuntimeConsoleAPICalled) {
		line := fmt.Sprintf("%s: %s", ev.Type, stringifyConsoleArgs(ev.Args))
		c.consoleMu.Lock()
		c.console = append(c.console, line)
		c.consoleMu.Unlock()
	})
	go wait()
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// Load renders the given markup in the session. The content is written to a
// scratch file and navigated as a document so relative behavior matches a
// served page. Returns ErrLoad on rejection.
func (c *Context) Load(ctx context.Context, content string) error {
	path := filepath.Join(c.tmpDir, "gen.html")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write content: %v", ErrLoad, err)
	}

	page := c.page.Context(ctx).Timeout(c.navTimeout)
	if err := page.Navigate("file://" + path); err != nil {
		return fmt.Errorf("%w: navigate: %v", ErrLoad, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait load: %v", ErrLoad, err)
	}
	c.lastContent = content
	return nil
}

// Reload resets the session to a clean render of the last loaded content.
// Exposed to test scripts as utils.reload.
func (c *Context) Reload(ctx context.Context) error {
	if c.lastContent == "" {
		return errors.New("reload before load")
	}
	return c.Load(ctx, c.lastContent)
}

// Query returns the elements matching a CSS selector, in document order.
//
// Role-based lookups go through RoleSelector and are answered from the same
// attribute query path; the accessibility tree is never consulted, so counts
// for elements with implicit roles can differ from a role-tree query.
func (c *Context) Query(ctx context.Context, selector string) (rod.Elements, error) {
	els, err := c.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return els, nil
}

// RoleSelector translates an ARIA role into the canonical attribute selector.
func RoleSelector(role string) string {
	return fmt.Sprintf("[role=%q]", role)
}

// Click dispatches a left click to the first element matching selector.
func (c *Context) Click(ctx context.Context, selector string) error {
	el, err := c.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type inputs text into the first element matching selector.
func (c *Context) Type(ctx context.Context, selector, text string) error {
	el, err := c.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Input(text)
}

// PressKey dispatches a keyboard event to the focused element.
func (c *Context) PressKey(ctx context.Context, key input.Key) error {
	return c.page.Context(ctx).Keyboard.Press(key)
}

// Evaluate runs a JS function in the page and returns its JSON value.
func (c *Context) Evaluate(ctx context.Context, js string, args ...any) ([]byte, error) {
	res, err := c.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	return res.Value.MarshalJSON()
}

// DrainConsole returns console lines accumulated since the previous drain, in
// arrival order.
func (c *Context) DrainConsole() []string {
	c.consoleMu.Lock()
	defer c.consoleMu.Unlock()
	out := c.console
	c.console = nil
	return out
}

// Capture writes a full-page screenshot to path. Best-effort for callers:
// failures are returned so the driver can log them without failing the run.
func (c *Context) Capture(ctx context.Context, path string) error {
	data, err := c.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Close tears the session down and releases the ceiling slot. Idempotent and
// unconditional: it runs even when the run inside the context crashed.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.stopStream()
		if err := c.page.Close(); err != nil {
			c.logger.Warn("close page", zap.Error(err))
		}
		if err := os.RemoveAll(c.tmpDir); err != nil {
			c.logger.Warn("remove content dir", zap.Error(err))
		}
		c.release()
	})
}
