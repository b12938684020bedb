package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/entrhq/quickbar/pkg/types"
	"github.com/gobwas/glob"
)

// SectionIDSafety is the identifier for the safety section
const SectionIDSafety = "safety"

// DefaultBlockedHosts are host patterns of personal inbox sites.
func DefaultBlockedHosts() []string {
	return []string{"*mail.*", "*gmail.com*", "*outlook.*", "*yahoo.com*"}
}

// DefaultBlockedPaths are path patterns of personal inbox pages.
func DefaultBlockedPaths() []string {
	return []string{"*/mail*"}
}

// SafetySection holds the tool allow-list and the navigation blocklist.
type SafetySection struct {
	AllowedTools []string `json:"allowed_tools"`
	BlockedHosts []string `json:"blocked_hosts"`
	BlockedPaths []string `json:"blocked_paths"`

	hostGlobs []glob.Glob
	pathGlobs []glob.Glob
	mu        sync.RWMutex
}

// NewSafetySection creates a safety section with default settings.
func NewSafetySection() *SafetySection {
	s := &SafetySection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *SafetySection) ID() string {
	return SectionIDSafety
}

// Title returns the section title.
func (s *SafetySection) Title() string {
	return "Safety"
}

// Description returns the section description.
func (s *SafetySection) Description() string {
	return "Which tools plans may use and which destinations open_tab refuses."
}

// Data returns the current configuration data.
func (s *SafetySection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"allowed_tools": append([]string(nil), s.AllowedTools...),
		"blocked_hosts": append([]string(nil), s.BlockedHosts...),
		"blocked_paths": append([]string(nil), s.BlockedPaths...),
	}
}

// SetData updates the configuration from the provided data.
func (s *SafetySection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tools, hosts, paths := s.AllowedTools, s.BlockedHosts, s.BlockedPaths
	for key, value := range data {
		var err error
		switch key {
		case "allowed_tools":
			tools, err = stringSliceValue(key, value)
		case "blocked_hosts":
			hosts, err = stringSliceValue(key, value)
		case "blocked_paths":
			paths, err = stringSliceValue(key, value)
		}
		if err != nil {
			return err
		}
	}

	hostGlobs, err := compilePatterns("blocked_hosts", hosts)
	if err != nil {
		return err
	}
	pathGlobs, err := compilePatterns("blocked_paths", paths)
	if err != nil {
		return err
	}

	s.AllowedTools, s.BlockedHosts, s.BlockedPaths = tools, hosts, paths
	s.hostGlobs, s.pathGlobs = hostGlobs, pathGlobs
	return nil
}

func compilePatterns(key string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern '%s': %w", key, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Validate validates the current configuration.
func (s *SafetySection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.AllowedTools) == 0 {
		return fmt.Errorf("allowed_tools must not be empty")
	}
	for _, tool := range s.AllowedTools {
		if !types.IsKnownTool(tool) {
			return fmt.Errorf("allowed_tools contains unknown tool %q", tool)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *SafetySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AllowedTools = nil
	for _, tool := range types.AllTools() {
		s.AllowedTools = append(s.AllowedTools, string(tool))
	}
	s.BlockedHosts = DefaultBlockedHosts()
	s.BlockedPaths = DefaultBlockedPaths()

	// Defaults are known-good patterns.
	s.hostGlobs, _ = compilePatterns("blocked_hosts", s.BlockedHosts)
	s.pathGlobs, _ = compilePatterns("blocked_paths", s.BlockedPaths)
}

// IsToolAllowed reports whether plans may use tool.
func (s *SafetySection) IsToolAllowed(tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// IsBlockedNavigation reports whether rawURL points at a blocked
// destination. Host and path are matched case-insensitively. A URL without
// a host is matched whole against the host patterns.
func (s *SafetySection) IsBlockedNavigation(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Host)
	if host == "" {
		host = strings.ToLower(strings.TrimSpace(rawURL))
	}
	path := strings.ToLower(u.Path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.hostGlobs {
		if g.Match(host) {
			return true
		}
	}
	for _, g := range s.pathGlobs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
