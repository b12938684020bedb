// Package browser hosts the tabs the engine automates. It runs Chromium
// through Playwright, gives every tab an integer id and a bridge endpoint
// serving the action engine over that tab's page, and reports tab removal.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/bridge"
	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/types"
)

var (
	// ErrNotInitialized is returned when the manager is used before
	// Initialize.
	ErrNotInitialized = errors.New("browser: manager not initialized")

	// ErrTabNotFound is returned for unknown or closed tab ids.
	ErrTabNotFound = errors.New("browser: tab not found")
)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("browser")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}

// Manager owns the Playwright browser and its tabs.
type Manager struct {
	mu          sync.RWMutex
	opts        Options
	router      *bridge.Router
	playwright  *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	tabs        map[int]playwright.Page
	ids         map[playwright.Page]int
	nextID      int
	onClosed    []func(tabID int)
	initialized bool
}

// NewManager creates a manager that attaches tab endpoints to router.
func NewManager(router *bridge.Router, opts Options) *Manager {
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Manager{
		opts:   opts,
		router: router,
		tabs:   make(map[int]playwright.Page),
		ids:    make(map[playwright.Page]int),
		nextID: 1,
	}
}

// Initialize installs and starts Playwright, launches Chromium and opens
// the browser context every tab lives in.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(m.opts.Timeout)
	bctx.SetDefaultNavigationTimeout(m.opts.Timeout)

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(initScript)}); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to add init script: %w", err)
	}
	if err := bctx.ExposeBinding(notifyBinding, m.handleNotify); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to expose binding: %w", err)
	}

	// Pages opened by the site itself become tabs too.
	bctx.OnPage(func(page playwright.Page) {
		m.register(page)
	})

	m.playwright = pw
	m.browser = browser
	m.context = bctx
	m.initialized = true
	log.Infof("Browser started (headless=%v)", m.opts.Headless)
	return nil
}

// handleNotify receives messages from the init script. Bindings run on
// Playwright's dispatcher, and notification handlers call back into pages,
// so the message is handed off to a goroutine.
func (m *Manager) handleNotify(source *playwright.BindingSource, args ...interface{}) interface{} {
	if source == nil || len(args) == 0 {
		return nil
	}
	payload, ok := args[0].(string)
	if !ok {
		return nil
	}
	tabID, ok := m.tabID(source.Page)
	if !ok {
		return nil
	}
	go m.router.Notify(tabID, []byte(payload))
	return nil
}

// register assigns page a tab id and attaches its endpoint. Registering
// the same page twice returns the existing id.
func (m *Manager) register(page playwright.Page) int {
	m.mu.Lock()
	if id, ok := m.ids[page]; ok {
		m.mu.Unlock()
		return id
	}
	id := m.nextID
	m.nextID++
	m.tabs[id] = page
	m.ids[page] = id
	m.mu.Unlock()

	m.router.Attach(id, bridge.NewEndpoint(actions.NewEngine(NewPage(page))))
	page.OnClose(func(playwright.Page) {
		go m.unregister(id)
	})
	log.Debugf("Registered tab %d", id)
	return id
}

// unregister forgets a closed tab and tells the OnTabClosed listeners.
func (m *Manager) unregister(tabID int) {
	m.mu.Lock()
	page, ok := m.tabs[tabID]
	if ok {
		delete(m.tabs, tabID)
		delete(m.ids, page)
	}
	listeners := append([]func(int){}, m.onClosed...)
	m.mu.Unlock()

	if !ok {
		return
	}

	m.router.Detach(tabID)
	for _, fn := range listeners {
		fn(tabID)
	}
	log.Debugf("Unregistered tab %d", tabID)
}

func (m *Manager) tabID(page playwright.Page) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[page]
	return id, ok
}

func (m *Manager) page(tabID int) (playwright.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	page, ok := m.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	return page, nil
}

// OnTabClosed registers fn to run after a tab's page closes.
func (m *Manager) OnTabClosed(fn func(tabID int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = append(m.onClosed, fn)
}

// OpenTab creates a tab, navigates it to url and returns its id. An empty
// url leaves the tab blank.
func (m *Manager) OpenTab(_ context.Context, url string) (int, error) {
	m.mu.RLock()
	bctx, ok := m.context, m.initialized
	m.mu.RUnlock()
	if !ok {
		return 0, ErrNotInitialized
	}

	page, err := bctx.NewPage()
	if err != nil {
		return 0, fmt.Errorf("failed to create page: %w", err)
	}
	id := m.register(page)

	if url != "" {
		if _, err := page.Goto(url); err != nil {
			return id, fmt.Errorf("navigation failed: %w", err)
		}
	}
	return id, nil
}

// Navigate loads url in the tab.
func (m *Manager) Navigate(_ context.Context, tabID int, url string) error {
	page, err := m.page(tabID)
	if err != nil {
		return err
	}
	if _, err := page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Info returns the tab's url, title and domain.
func (m *Manager) Info(_ context.Context, tabID int) (types.TabInfo, error) {
	page, err := m.page(tabID)
	if err != nil {
		return types.TabInfo{}, err
	}
	title, err := page.Title()
	if err != nil {
		title = ""
	}
	return types.NewTabInfo(page.URL(), title), nil
}

// Tabs returns the open tab ids in ascending order.
func (m *Manager) Tabs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Shutdown closes every tab and stops Playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	for id := range m.tabs {
		m.router.Detach(id)
	}
	m.tabs = make(map[int]playwright.Page)
	m.ids = make(map[playwright.Page]int)

	var errs []error
	if err := m.context.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.playwright.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	m.initialized = false

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
