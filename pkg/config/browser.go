package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDBrowser is the identifier for the browser section
	SectionIDBrowser = "browser"

	// DefaultBrowserTimeout is the Playwright operation timeout in milliseconds
	DefaultBrowserTimeout = 30000

	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
)

// BrowserSection configures the automated browser.
type BrowserSection struct {
	Headless       bool `json:"headless"`
	ViewportWidth  int  `json:"viewport_width"`
	ViewportHeight int  `json:"viewport_height"`
	Timeout        int  `json:"timeout"`

	mu sync.RWMutex
}

// NewBrowserSection creates a browser section with default settings.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *BrowserSection) ID() string {
	return SectionIDBrowser
}

// Title returns the section title.
func (s *BrowserSection) Title() string {
	return "Browser"
}

// Description returns the section description.
func (s *BrowserSection) Description() string {
	return "Launch options for the automated browser."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"headless":        s.Headless,
		"viewport_width":  s.ViewportWidth,
		"viewport_height": s.ViewportHeight,
		"timeout":         s.Timeout,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "headless":
			s.Headless, err = boolValue(key, value)
		case "viewport_width":
			s.ViewportWidth, err = intValue(key, value)
		case "viewport_height":
			s.ViewportHeight, err = intValue(key, value)
		case "timeout":
			s.Timeout, err = intValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.ViewportWidth, s.ViewportHeight)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Headless = true
	s.ViewportWidth = defaultViewportWidth
	s.ViewportHeight = defaultViewportHeight
	s.Timeout = DefaultBrowserTimeout
}

// Options returns a snapshot of the launch options.
func (s *BrowserSection) Options() (headless bool, width, height, timeout int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Headless, s.ViewportWidth, s.ViewportHeight, s.Timeout
}
