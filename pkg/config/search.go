package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	// SectionIDSearch is the identifier for the search section
	SectionIDSearch = "search"

	// DefaultSearchUIURL is where search_default steps land when no UI URL is configured
	DefaultSearchUIURL = "https://search.fera.ai"

	searchTermsPlaceholder = "{searchTerms}"
)

var (
	// ErrUnknownEngine is returned when an engine name is not configured.
	ErrUnknownEngine = errors.New("config: unknown search engine")

	// ErrNoEngines is returned when the engine list is empty.
	ErrNoEngines = errors.New("config: at least one search engine is required")
)

// SearchEngine is a named URL template. The template must contain
// {searchTerms}.
type SearchEngine struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

// DefaultSearchEngines returns the built-in engine list.
func DefaultSearchEngines() []SearchEngine {
	return []SearchEngine{
		{Name: "Fera Search", Template: "https://fera-search.tech/?q={searchTerms}"},
		{Name: "Fera", Template: "https://search.fera.ai/?q={searchTerms}&tab=all"},
		{Name: "Google", Template: "https://www.google.com/search?q={searchTerms}"},
		{Name: "Bing", Template: "https://www.bing.com/search?q={searchTerms}"},
		{Name: "DuckDuckGo", Template: "https://duckduckgo.com/?q={searchTerms}"},
		{Name: "Brave", Template: "https://search.brave.com/search?q={searchTerms}"},
	}
}

// SearchSection holds the engine list, the default engine and the search
// UI location used by search_default.
type SearchSection struct {
	Engines       []SearchEngine `json:"engines"`
	DefaultEngine string         `json:"default_engine"`
	UIURLValue    string         `json:"ui_url"`

	mu sync.RWMutex
}

// NewSearchSection creates a search section with the built-in engines.
func NewSearchSection() *SearchSection {
	s := &SearchSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *SearchSection) ID() string {
	return SectionIDSearch
}

// Title returns the section title.
func (s *SearchSection) Title() string {
	return "Search"
}

// Description returns the section description.
func (s *SearchSection) Description() string {
	return "Search engines, the default engine and the search UI used for search steps."
}

// Data returns the current configuration data.
func (s *SearchSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engines := make([]any, 0, len(s.Engines))
	for _, e := range s.Engines {
		engines = append(engines, map[string]any{
			"name":     e.Name,
			"template": e.Template,
		})
	}

	return map[string]any{
		"engines":        engines,
		"default_engine": s.DefaultEngine,
		"ui_url":         s.UIURLValue,
	}
}

// SetData updates the configuration from the provided data. An empty or
// unreadable engine list falls back to the built-in engines, and a default
// engine that is not in the list falls back to the first engine.
func (s *SearchSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "engines":
			engines, err := parseEngines(value)
			if err != nil {
				return err
			}
			s.Engines = engines
		case "default_engine":
			v, err := stringValue(key, value)
			if err != nil {
				return err
			}
			s.DefaultEngine = v
		case "ui_url":
			v, err := stringValue(key, value)
			if err != nil {
				return err
			}
			s.UIURLValue = v
		}
	}

	s.normalize()
	return nil
}

func parseEngines(value any) ([]SearchEngine, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid value type for engines: expected list, got %T", value)
	}

	engines := make([]SearchEngine, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid value type for engines[%d]: expected object, got %T", i, item)
		}
		name, _ := m["name"].(string)
		template, _ := m["template"].(string)
		name, template = strings.TrimSpace(name), strings.TrimSpace(template)
		if name == "" || template == "" {
			continue
		}
		engines = append(engines, SearchEngine{Name: name, Template: template})
	}
	return engines, nil
}

// normalize must be called with the lock held.
func (s *SearchSection) normalize() {
	if len(s.Engines) == 0 {
		s.Engines = DefaultSearchEngines()
	}
	if s.indexOf(s.DefaultEngine) < 0 {
		s.DefaultEngine = s.Engines[0].Name
	}
}

func (s *SearchSection) indexOf(name string) int {
	if name == "" {
		return -1
	}
	for i, e := range s.Engines {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Validate validates the current configuration.
func (s *SearchSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.Engines) == 0 {
		return ErrNoEngines
	}

	seen := make(map[string]bool, len(s.Engines))
	for _, e := range s.Engines {
		if err := validateEngine(e.Name, e.Template); err != nil {
			return err
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate search engine %q", e.Name)
		}
		seen[e.Name] = true
	}

	if s.indexOf(s.DefaultEngine) < 0 {
		return fmt.Errorf("%w: default %q", ErrUnknownEngine, s.DefaultEngine)
	}

	if s.UIURLValue != "" {
		u, err := url.Parse(s.UIURLValue)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ui_url must be an absolute URL, got %q", s.UIURLValue)
		}
	}
	return nil
}

func validateEngine(name, template string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("search engine name is required")
	}
	if !strings.Contains(template, searchTermsPlaceholder) {
		return fmt.Errorf("search engine %q template must contain %s", name, searchTermsPlaceholder)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *SearchSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Engines = DefaultSearchEngines()
	s.DefaultEngine = s.Engines[0].Name
	s.UIURLValue = ""
}

// UIURL returns the search UI base URL with any trailing slash removed.
func (s *SearchSection) UIURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.UIURLValue == "" {
		return DefaultSearchUIURL
	}
	return strings.TrimRight(s.UIURLValue, "/")
}

// GetEngines returns a copy of the configured engines.
func (s *SearchSection) GetEngines() []SearchEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SearchEngine(nil), s.Engines...)
}

// GetDefaultEngine returns the default engine.
func (s *SearchSection) GetDefaultEngine() SearchEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Engines[s.indexOf(s.DefaultEngine)]
}

// Engine looks up an engine by name. Names match exactly.
func (s *SearchSection) Engine(name string) (SearchEngine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(name)
	if i < 0 {
		return SearchEngine{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return s.Engines[i], nil
}
