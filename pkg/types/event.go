package types

// EventType defines the type of notification emitted by the engine.
type EventType string

const (
	EventTypeTabStateUpdated EventType = "tabStateUpdated" // EventTypeTabStateUpdated carries a fresh snapshot after any tab state mutation.
	EventTypeAuthRequired    EventType = "authRequired"    // EventTypeAuthRequired indicates a run paused for the user to authenticate.
)

// Event is a notification pushed to control-surface subscribers.
type Event struct {
	// Type indicates the kind of event.
	Type EventType `json:"type"`

	// TabID is the tab the event refers to.
	TabID int `json:"tabId"`

	// State is the tab state snapshot (tabStateUpdated only).
	State *TabState `json:"state,omitempty"`
}

// NewTabStateUpdatedEvent creates a state-changed notification.
func NewTabStateUpdatedEvent(tabID int, state *TabState) *Event {
	return &Event{
		Type:  EventTypeTabStateUpdated,
		TabID: tabID,
		State: state,
	}
}

// NewAuthRequiredEvent creates a pause-for-authentication notification.
func NewAuthRequiredEvent(tabID int) *Event {
	return &Event{
		Type:  EventTypeAuthRequired,
		TabID: tabID,
	}
}

// EventEmitter is a function type for emitting events
type EventEmitter func(event *Event)
