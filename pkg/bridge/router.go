package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/types"
)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("bridge")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize bridge logger, using stderr fallback: %v", err)
	}
}

// NotifyFunc receives page-originated notifications.
type NotifyFunc func(tabID int, n Notification)

// Router addresses endpoints by tab id.
type Router struct {
	mu        sync.RWMutex
	endpoints map[int]*Endpoint
	listeners []NotifyFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{endpoints: make(map[int]*Endpoint)}
}

// Attach registers the endpoint for tabID, closing any previous one.
func (r *Router) Attach(tabID int, ep *Endpoint) {
	r.mu.Lock()
	old := r.endpoints[tabID]
	r.endpoints[tabID] = ep
	r.mu.Unlock()

	if old != nil && old != ep {
		old.Close()
	}
}

// Detach removes and closes the endpoint for tabID.
func (r *Router) Detach(tabID int) {
	r.mu.Lock()
	ep := r.endpoints[tabID]
	delete(r.endpoints, tabID)
	r.mu.Unlock()

	if ep != nil {
		ep.Close()
	}
}

// Close detaches every endpoint.
func (r *Router) Close() {
	r.mu.Lock()
	eps := r.endpoints
	r.endpoints = make(map[int]*Endpoint)
	r.mu.Unlock()

	for _, ep := range eps {
		ep.Close()
	}
}

// Call sends req to the tab's endpoint and waits for the response.
// Failures to deliver or decode return ErrTransport; page-side failures
// are carried in the response.
func (r *Router) Call(ctx context.Context, tabID int, req Request) (*Response, error) {
	r.mu.RLock()
	ep := r.endpoints[tabID]
	r.mu.RUnlock()
	if ep == nil {
		return nil, fmt.Errorf("%w: no endpoint for tab %d", ErrTransport, tabID)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrTransport, err)
	}

	out, err := ep.roundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response %q does not answer %q", ErrTransport, resp.ID, req.ID)
	}
	return &resp, nil
}

// Execute runs a page-side tool in the tab.
func (r *Router) Execute(ctx context.Context, tabID int, tool types.ToolName, args map[string]any) (actions.Result, error) {
	resp, err := r.Call(ctx, tabID, Request{Type: RequestExecute, Tool: tool, Args: args})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var result actions.Result
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// CollectContext snapshots the tab's page.
func (r *Router) CollectContext(ctx context.Context, tabID int) (*types.PageContext, error) {
	resp, err := r.Call(ctx, tabID, Request{Type: RequestCollectContext})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var pc types.PageContext
	if err := resp.Decode(&pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// ShowCursor shows the marker in the tab.
func (r *Router) ShowCursor(ctx context.Context, tabID int) error {
	return r.simple(ctx, tabID, RequestShowCursor)
}

// HideCursor removes the marker from the tab.
func (r *Router) HideCursor(ctx context.Context, tabID int) error {
	return r.simple(ctx, tabID, RequestHideCursor)
}

func (r *Router) simple(ctx context.Context, tabID int, typ RequestType) error {
	resp, err := r.Call(ctx, tabID, Request{Type: typ})
	if err != nil {
		return err
	}
	return resp.Err()
}

// OnNotify registers fn for page notifications.
func (r *Router) OnNotify(fn NotifyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Notify decodes a page-originated message and hands it to the listeners.
// Unknown or malformed messages are dropped.
func (r *Router) Notify(tabID int, payload []byte) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		log.Warnf("Dropping malformed notification from tab %d: %v", tabID, err)
		return
	}
	if n.Type != NotifyEscapeStop {
		log.Debugf("Ignoring notification %q from tab %d", n.Type, tabID)
		return
	}

	r.mu.RLock()
	listeners := append([]NotifyFunc(nil), r.listeners...)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(tabID, n)
	}
}
