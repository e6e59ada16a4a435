// Package browser manages the shared Rod browser session used by agent runs.
package browser

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options controls how the browser is launched. Values come from the run
// configuration of the task that first touches the browser.
type Options struct {
	Headless        bool
	DisableSecurity bool
	WindowW         int
	WindowH         int

	// ControlURL connects to an already running browser over CDP instead
	// of launching one (use_own_browser).
	ControlURL string

	// KeepOpen leaves the browser running after a run finishes; otherwise
	// the session is released when the run's page is released.
	KeepOpen bool
}

// Manager owns a shared Rod browser instance and the page of the current
// run. The browser is lazily launched on first use so it consumes no
// resources until a run actually needs it.
type Manager struct {
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	opts    Options
}

// NewManager creates a Manager. The browser is not started until Page is
// first called.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// IsAvailable checks whether a Chrome/Chromium binary is accessible.
func IsAvailable() bool {
	if _, has := launcher.LookPath(); has {
		return true
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil && p != "" {
			return true
		}
	}
	return false
}

// ensureBrowser starts or connects the browser if needed.
// Must be called with m.mu held.
func (m *Manager) ensureBrowser() error {
	if m.browser != nil {
		return nil
	}

	url := m.opts.ControlURL
	if url == "" {
		l := launcher.New().Headless(m.opts.Headless)
		if m.opts.WindowW > 0 && m.opts.WindowH > 0 {
			l = l.Set("window-size", fmt.Sprintf("%d,%d", m.opts.WindowW, m.opts.WindowH))
		}
		if m.opts.DisableSecurity {
			l = l.Set("disable-web-security")
		}
		launched, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		url = launched
	}

	m.browser = rod.New().ControlURL(url)
	if err := m.browser.Connect(); err != nil {
		m.browser = nil
		return fmt.Errorf("connect to browser: %w", err)
	}
	return nil
}

// Page returns the current run's page, creating the browser and a blank
// page if needed.
func (m *Manager) Page() (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		return m.page, nil
	}

	if err := m.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := m.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if m.opts.WindowW > 0 && m.opts.WindowH > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  m.opts.WindowW,
			Height: m.opts.WindowH,
		}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	m.page = page
	return page, nil
}

// ReleasePage closes the current page. With KeepOpen set the browser stays
// up for the next run; otherwise the whole session is closed too.
func (m *Manager) ReleasePage() {
	m.mu.Lock()
	keep := m.opts.KeepOpen
	m.mu.Unlock()

	m.closePage()
	if !keep {
		_ = m.Close()
	}
}

func (m *Manager) closePage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page != nil {
		_ = m.page.Close()
		m.page = nil
	}
}

// Close shuts down the page and the browser itself. Backs POST /browser/close.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		_ = m.page.Close()
		m.page = nil
	}
	if m.browser != nil {
		err := m.browser.Close()
		m.browser = nil
		return err
	}
	return nil
}
