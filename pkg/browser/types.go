package browser

// Default browser settings.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	// DefaultTimeout is the Playwright operation timeout in milliseconds.
	DefaultTimeout = 30000
)

// CursorID is the DOM id of the cursor marker drawn on automated pages.
const CursorID = "quickbar-cursor"

// notifyBinding is the page-global function the init script calls to send
// notifications to the engine.
const notifyBinding = "quickbarNotify"

// Options configures the browser launched by a Manager.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the size of every tab
	Viewport Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// DefaultOptions returns headless Chromium with the default viewport.
func DefaultOptions() Options {
	return Options{
		Headless: true,
		Viewport: Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Timeout:  DefaultTimeout,
	}
}
