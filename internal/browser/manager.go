// Package browser owns the Chrome process and exposes one tab per session as
// a Page. Everything above this package speaks schemas types; nothing above
// it imports chromedp.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

const (
	launchTimeout       = 60 * time.Second
	shutdownGracePeriod = 15 * time.Second
	cleanupTimeout      = 10 * time.Second
)

// Manager handles the browser process lifecycle and page creation. The
// browser is launched lazily on the first page request and shared by every
// page after that.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce sync.Once
	initErr  error

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu    sync.Mutex
	pages map[string]*Page
	wg    sync.WaitGroup
}

// NewManager creates a browser manager. Launch is deferred until the first
// page is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
		pages:  make(map[string]*Page),
	}
}

// chromeFlag is one command line switch, kept as data so the launch set can
// be inspected without starting a browser.
type chromeFlag struct {
	name  string
	value interface{}
}

// launchFlags builds the Chrome switches for this configuration. The
// anti-detection set must stay consistent with the fingerprint applied per
// page: a stealth profile on top of an obviously automated process is a
// contradiction.
func launchFlags(cfg config.BrowserConfig) []chromeFlag {
	flags := []chromeFlag{
		{"headless", cfg.Headless},

		// Prevents navigator.webdriver from reporting true.
		{"disable-blink-features", "AutomationControlled"},
		{"exclude-switches", "enable-automation"},

		{"disable-extensions", true},
		{"disable-default-apps", true},
		{"disable-infobars", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-dev-shm-usage", true},
		{"disable-plugins-discovery", true},
	}

	if cfg.Headless && cfg.DisableGPU {
		flags = append(flags, chromeFlag{"disable-gpu", true})
	}
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			flags = append(flags, chromeFlag{name, value})
		} else {
			flags = append(flags, chromeFlag{name, true})
		}
	}
	return flags
}

// allocatorOptions translates the flag set into exec allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	return opts
}

// initialize launches the Chrome process. The allocator is parented to the
// background context so the process outlives any single run; Shutdown owns
// its termination.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("launching browser", zap.Bool("headless", m.cfg.Headless))

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(m.cfg)...)
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.chromeLogf),
			chromedp.WithErrorf(m.chromeErrorf),
		)

		// chromedp.Run blocks on the browser context, so the launch timeout
		// has to be enforced from the outside.
		launched := make(chan error, 1)
		go func() {
			launched <- chromedp.Run(m.browserCtx)
		}()

		select {
		case err := <-launched:
			if err != nil {
				m.teardownContexts()
				m.initErr = fmt.Errorf("launching browser: %w", err)
				return
			}
		case <-ctx.Done():
			m.teardownContexts()
			m.initErr = fmt.Errorf("launching browser: %w", ctx.Err())
			return
		case <-time.After(launchTimeout):
			m.teardownContexts()
			m.initErr = fmt.Errorf("launching browser: no response within %s", launchTimeout)
			return
		}

		m.logger.Info("browser ready")
	})
	return m.initErr
}

func (m *Manager) teardownContexts() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}

// NewPage opens a fresh tab, applies the fingerprint profile and starts the
// event watcher. The caller owns the page and must Close it.
func (m *Manager) NewPage(ctx context.Context, profile schemas.FingerprintProfile) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	p := &Page{
		id:     uuid.New().String(),
		ctx:    tabCtx,
		cancel: tabCancel,
		cfg:    m.cfg,
	}
	p.logger = m.logger.With(zap.String("page_id", p.id))
	p.watcher = NewWatcher(tabCtx, p.logger)

	m.wg.Add(1)
	p.onClose = func() {
		m.mu.Lock()
		delete(m.pages, p.id)
		m.mu.Unlock()
		m.wg.Done()
	}

	if err := p.bootstrap(ctx, profile); err != nil {
		// The tab context may be the failure cause, so cleanup runs on a
		// background context.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		p.Close(cleanupCtx)
		return nil, fmt.Errorf("preparing page: %w", err)
	}

	m.mu.Lock()
	m.pages[p.id] = p
	m.mu.Unlock()

	m.logger.Info("page ready",
		zap.String("page_id", p.id),
		zap.String("device", profile.DeviceName))
	return p, nil
}

// Shutdown closes every open page and terminates the browser process. Safe
// to call when the browser never launched.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.browserCtx == nil {
		return nil
	}
	m.logger.Info("shutting down browser")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGracePeriod)
		defer cancel()
	}

	m.mu.Lock()
	open := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.mu.Unlock()

	for _, p := range open {
		go func(p *Page) {
			if err := p.Close(ctx); err != nil {
				m.logger.Warn("page close during shutdown", zap.String("page_id", p.id), zap.Error(err))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("timed out waiting for pages to close", zap.Error(ctx.Err()))
	}

	if err := chromedp.Cancel(m.browserCtx); err != nil {
		m.logger.Warn("browser did not exit cleanly", zap.Error(err))
	}
	m.teardownContexts()

	m.logger.Info("browser shut down")
	return nil
}

func (m *Manager) chromeLogf(format string, args ...interface{}) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

func (m *Manager) chromeErrorf(format string, args ...interface{}) {
	m.logger.Warn(fmt.Sprintf(format, args...))
}
