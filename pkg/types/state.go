package types

import "encoding/json"

// Status is the run status of a tab.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Role identifies who authored a chat entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ChatEntry is one message of a tab's conversation.
type ChatEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// LogEntry is one line of a run's log stream.
type LogEntry struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
	Detail  string   `json:"detail,omitempty"`
}

// TabState is everything the engine remembers about one tab. It is
// persisted as a single record and sent whole in notifications.
type TabState struct {
	ChatHistory   []ChatEntry  `json:"chatHistory"`
	SharedContext *PageContext `json:"sharedTabContext"`
	Status        Status       `json:"agentState"`
	LastPlan      *Plan        `json:"lastPlan"`
	Logs          []LogEntry   `json:"logs"`
}

// NewTabState returns the default state for a tab seen for the first time.
func NewTabState() *TabState {
	return &TabState{
		ChatHistory: []ChatEntry{},
		Status:      StatusIdle,
		Logs:        []LogEntry{},
	}
}

// Clone returns a deep copy so snapshots handed to subscribers never alias
// the cached state.
func (s *TabState) Clone() *TabState {
	if s == nil {
		return nil
	}
	out := &TabState{
		ChatHistory: append([]ChatEntry{}, s.ChatHistory...),
		Status:      s.Status,
		Logs:        append([]LogEntry{}, s.Logs...),
	}
	if s.SharedContext != nil {
		out.SharedContext = s.SharedContext.Clone()
	}
	if s.LastPlan != nil {
		out.LastPlan = s.LastPlan.Clone()
	}
	return out
}

// IsActive reports whether a run owns the tab.
func (s *TabState) IsActive() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

// UnmarshalJSON tolerates records written before a field existed.
func (s *TabState) UnmarshalJSON(data []byte) error {
	type plain TabState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ChatHistory == nil {
		p.ChatHistory = []ChatEntry{}
	}
	if p.Logs == nil {
		p.Logs = []LogEntry{}
	}
	if p.Status == "" {
		p.Status = StatusIdle
	}
	*s = TabState(p)
	return nil
}
