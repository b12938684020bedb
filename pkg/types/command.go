package types

// CommandType identifies a control-surface command.
type CommandType string

const (
	CommandGetTabState       CommandType = "getTabState"       // CommandGetTabState returns the tab's current state.
	CommandUpdateChat        CommandType = "updateChat"        // CommandUpdateChat appends a chat entry.
	CommandCollectTabContext CommandType = "collectTabContext" // CommandCollectTabContext snapshots the page and shares it with the planner.
	CommandStartTask         CommandType = "startTask"         // CommandStartTask starts a run for a goal.
	CommandStopTask          CommandType = "stopTask"          // CommandStopTask cancels the tab's run.
	CommandContinueAuth      CommandType = "continueAuth"      // CommandContinueAuth resumes a run paused for authentication.
	CommandEscapeStop        CommandType = "escapeStop"        // CommandEscapeStop cancels the run from the page's Escape gesture.
	CommandGetSearchEngines  CommandType = "getSearchEngines"  // CommandGetSearchEngines lists the engines a startTask may name.
)

// TaskOptions carries per-run planner options.
type TaskOptions struct {
	Mode           string `json:"mode,omitempty"`
	EngineOverride string `json:"engineOverride,omitempty"`
}

// Command is a message sent by an external UI into the engine.
type Command struct {
	// Type indicates the kind of command.
	Type CommandType `json:"type"`

	// TabID is the tab the command targets.
	TabID int `json:"tabId"`

	// Entry is the chat entry to append (updateChat only).
	Entry *ChatEntry `json:"entry,omitempty"`

	// UserGoal is the natural-language goal (startTask only).
	UserGoal string `json:"userGoal,omitempty"`

	// Options are the planner options (startTask only).
	Options TaskOptions `json:"options"`
}

// Reply is the acknowledgement returned for commands that carry no data.
type Reply struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewOKReply creates a success acknowledgement.
func NewOKReply() *Reply {
	return &Reply{OK: true}
}

// NewErrorReply creates a failure reply from err.
func NewErrorReply(err error) *Reply {
	return &Reply{Error: err.Error()}
}
