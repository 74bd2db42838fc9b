// Package browser drives the headless Chrome side of dashboard fetches: one
// shared browser process, one isolated incognito context per account, and a
// prober that reads page state without ever failing the poll loop.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quotaprobe/internal/dashboard"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url" yaml:"debugger_url"`
	Launch              []string `json:"launch" yaml:"launch"`
	Headless            bool     `json:"headless" yaml:"headless"`
	ViewportWidth       int      `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height" yaml:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms" yaml:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Manager owns the detached Chrome instance and the per-account incognito
// contexts. Each account gets its own context so identities never share a
// cookie jar; pages for the same account all live inside that context.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	scopes     map[dashboard.AccountID]*rod.Browser
}

// NewManager creates a manager. log may be nil.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		log:    log,
		scopes: make(map[dashboard.AccountID]*rod.Browser),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive.
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.scopes = make(map[dashboard.AccountID]*rod.Browser)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Retry without the custom flags before giving up.
			fallback := launcher.New().Bin(bin).Headless(m.cfg.Headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.log.Debug("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.browser != nil
	m.mu.Unlock()
	if started {
		return nil
	}
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// Shutdown closes every account context and the browser itself.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for account := range m.scopes {
		delete(m.scopes, account)
	}
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// scope returns the account's incognito context, creating it on first use.
func (m *Manager) scope(ctx context.Context, account dashboard.AccountID) (*rod.Browser, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if scope, ok := m.scopes[account]; ok {
		return scope, nil
	}

	scope, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context for %s: %w", account, err)
	}
	m.scopes[account] = scope
	m.log.Debug("account context created", zap.String("account", string(account)))
	return scope, nil
}

// SeedCookies injects externally materialized credentials into the account's
// context. Must run before the first page for the account navigates anywhere
// authenticated.
func (m *Manager) SeedCookies(ctx context.Context, account dashboard.AccountID, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	scope, err := m.scope(ctx, account)
	if err != nil {
		return err
	}
	if err := scope.SetCookies(cookieParams(cookies)); err != nil {
		return fmt.Errorf("seed cookies for %s: %w", account, err)
	}
	m.log.Debug("cookies seeded",
		zap.String("account", string(account)), zap.Int("count", len(cookies)))
	return nil
}

// DropScope disposes the account's incognito context along with every page in
// it. Used on logout so no credentialed surface outlives the credentials.
func (m *Manager) DropScope(account dashboard.AccountID) {
	m.mu.Lock()
	scope, ok := m.scopes[account]
	if ok {
		delete(m.scopes, account)
	}
	browser := m.browser
	m.mu.Unlock()

	if !ok || browser == nil {
		return
	}
	_ = proto.TargetDisposeBrowserContext{
		BrowserContextID: scope.BrowserContextID,
	}.Call(browser)
	m.log.Debug("account context dropped", zap.String("account", string(account)))
}

// NewSession opens a page inside the account's context and navigates it to
// targetURL. Satisfies dashboard.SessionFactory via Factory.
func (m *Manager) NewSession(ctx context.Context, account dashboard.AccountID, targetURL string) (dashboard.Session, error) {
	scope, err := m.scope(ctx, account)
	if err != nil {
		return nil, err
	}

	page, err := scope.Page(proto.TargetCreateTarget{URL: targetURL})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	// The SPA keeps streaming after load; the poll loop handles that. Only
	// the initial document needs to be in before probing starts.
	_ = page.Timeout(m.cfg.NavigationTimeout()).WaitLoad()

	return &PageSession{page: page, navTimeout: m.cfg.NavigationTimeout()}, nil
}

// Factory adapts the manager to the session constructor the pool expects.
func (m *Manager) Factory() dashboard.SessionFactory {
	return m.NewSession
}

// PageSession wraps one rod page as a dashboard session.
type PageSession struct {
	page       *rod.Page
	navTimeout time.Duration
}

// Navigate loads the URL, bounded by the configured navigation timeout.
func (s *PageSession) Navigate(ctx context.Context, url string) error {
	return s.page.Context(ctx).Timeout(s.navTimeout).Navigate(url)
}

// Close releases the page. The incognito context stays up for reuse.
func (s *PageSession) Close() error {
	return s.page.Close()
}
