package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/types"
)

// Handler is the page-side implementation of the request types.
// *actions.Engine satisfies it.
type Handler interface {
	Execute(ctx context.Context, tool types.ToolName, args map[string]any) (actions.Result, error)
	CollectContext(ctx context.Context) (*types.PageContext, error)
	ShowCursor(ctx context.Context) error
	HideCursor(ctx context.Context) error
}

type envelope struct {
	payload []byte
	reply   chan []byte
}

// Endpoint is the page side of one tab. A single goroutine answers
// requests one at a time in arrival order.
type Endpoint struct {
	handler Handler
	inbox   chan envelope

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewEndpoint starts an endpoint serving handler.
func NewEndpoint(handler Handler) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		handler: handler,
		inbox:   make(chan envelope),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go e.serve()
	return e
}

// Close stops the endpoint. A request in flight sees its context
// cancelled; queued callers get ErrTransport.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		<-e.done
	})
}

func (e *Endpoint) serve() {
	defer close(e.done)

	for {
		select {
		case env := <-e.inbox:
			env.reply <- e.handle(env.payload)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Endpoint) handle(payload []byte) []byte {
	var req Request
	var resp Response

	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = fmt.Sprintf("malformed request: %v", err)
	} else {
		resp.ID = req.ID
		result, err := e.dispatch(req)
		if err != nil {
			resp.Error = err.Error()
			resp.Code = actions.ErrorCode(err)
		} else if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = fmt.Sprintf("unencodable result: %v", err)
			} else {
				resp.Result = raw
			}
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(fmt.Sprintf(`{"id":%q,"error":"unencodable response"}`, req.ID))
	}
	return out
}

func (e *Endpoint) dispatch(req Request) (any, error) {
	switch req.Type {
	case RequestExecute:
		return e.handler.Execute(e.ctx, req.Tool, req.Args)
	case RequestCollectContext:
		return e.handler.CollectContext(e.ctx)
	case RequestShowCursor:
		return map[string]bool{"ok": true}, e.handler.ShowCursor(e.ctx)
	case RequestHideCursor:
		return map[string]bool{"ok": true}, e.handler.HideCursor(e.ctx)
	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}

// roundTrip delivers payload and waits for the encoded response.
func (e *Endpoint) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	env := envelope{payload: payload, reply: make(chan []byte, 1)}

	select {
	case e.inbox <- env:
	case <-e.done:
		return nil, fmt.Errorf("%w: endpoint closed", ErrTransport)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}

	select {
	case out := <-env.reply:
		return out, nil
	case <-e.done:
		// serve may have answered just before exiting.
		select {
		case out := <-env.reply:
			return out, nil
		default:
			return nil, fmt.Errorf("%w: endpoint closed", ErrTransport)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}
