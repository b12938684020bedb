package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

const (
	// SectionIDPlanner is the identifier for the planner service section
	SectionIDPlanner = "planner"

	// DefaultPlannerBaseURL is the hosted planning service
	DefaultPlannerBaseURL = "https://himanshu-711-fera-ai-assistant.hf.space"
)

// PlannerSection configures the remote planning service.
type PlannerSection struct {
	BaseURL string `json:"base_url"`

	// RequestTimeout bounds each planner HTTP call; zero means no limit.
	RequestTimeout time.Duration `json:"request_timeout"`

	mu sync.RWMutex
}

// NewPlannerSection creates a planner section with default settings.
func NewPlannerSection() *PlannerSection {
	return &PlannerSection{BaseURL: DefaultPlannerBaseURL}
}

// ID returns the section identifier.
func (s *PlannerSection) ID() string {
	return SectionIDPlanner
}

// Title returns the section title.
func (s *PlannerSection) Title() string {
	return "Planner"
}

// Description returns the section description.
func (s *PlannerSection) Description() string {
	return "Location of the remote planning service that turns goals into step plans."
}

// Data returns the current configuration data.
func (s *PlannerSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"base_url":        s.BaseURL,
		"request_timeout": s.RequestTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *PlannerSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "base_url":
			v, err := stringValue(key, value)
			if err != nil {
				return err
			}
			s.BaseURL = v
		case "request_timeout":
			v, err := durationValue(key, value)
			if err != nil {
				return err
			}
			s.RequestTimeout = v
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *PlannerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", s.BaseURL)
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *PlannerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BaseURL = DefaultPlannerBaseURL
	s.RequestTimeout = 0
}

// GetBaseURL returns the planner base URL.
func (s *PlannerSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// GetRequestTimeout returns the per-request timeout.
func (s *PlannerSection) GetRequestTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RequestTimeout
}
