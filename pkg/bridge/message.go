// Package bridge carries requests from the controller to the page-side
// action engine of each tab and page-originated notifications back. Every
// crossing is JSON encoded; nothing is shared by reference between the two
// sides.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/types"
)

// ErrTransport is returned when a request cannot be delivered or answered:
// the tab has no endpoint, the endpoint closed, or the payload was
// unreadable.
var ErrTransport = errors.New("bridge: transport error")

// RequestType names a page-side command.
type RequestType string

const (
	RequestExecute        RequestType = "execute"
	RequestCollectContext RequestType = "collectContext"
	RequestShowCursor     RequestType = "showCursor"
	RequestHideCursor     RequestType = "hideCursor"
)

// Request is a controller-to-page command.
type Request struct {
	ID   string         `json:"id"`
	Type RequestType    `json:"type"`
	Tool types.ToolName `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// Response answers a Request. Error and Code are set on failure; Code
// names the error kind so the controller can match it with errors.Is.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Err rebuilds the page-side error, or returns nil on success.
func (r *Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return actions.ErrorFromCode(r.Code, r.Error)
}

// Decode unmarshals the result into v.
func (r *Response) Decode(v any) error {
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("%w: decoding %s result: %v", ErrTransport, r.ID, err)
	}
	return nil
}

// NotificationType names a page-originated message.
type NotificationType string

// NotifyEscapeStop is sent when the user presses Escape on the page.
const NotifyEscapeStop NotificationType = "escapeStop"

// Notification is a page-to-controller message that expects no answer.
type Notification struct {
	Type NotificationType `json:"type"`
}
