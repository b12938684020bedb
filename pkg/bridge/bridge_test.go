package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/types"
)

func TestMain(m *testing.M) {
	// Opening the log file starts the rotator's background goroutine.
	log.Debugf("bridge tests starting")
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

type fakeHandler struct {
	mu       sync.Mutex
	calls    []types.ToolName
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	block    chan struct{}
	err      error
	context  *types.PageContext
	cursor   []string
}

func (h *fakeHandler) Execute(ctx context.Context, tool types.ToolName, args map[string]any) (actions.Result, error) {
	n := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		old := h.maxSeen.Load()
		if n <= old || h.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}

	h.mu.Lock()
	h.calls = append(h.calls, tool)
	h.mu.Unlock()

	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return actions.Result{"ok": true, "tool": string(tool), "args": args}, nil
}

func (h *fakeHandler) CollectContext(ctx context.Context) (*types.PageContext, error) {
	return h.context, h.err
}

func (h *fakeHandler) ShowCursor(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = append(h.cursor, "show")
	return nil
}

func (h *fakeHandler) HideCursor(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = append(h.cursor, "hide")
	return nil
}

func newRouter(t *testing.T, tabID int, h Handler) *Router {
	t.Helper()
	r := NewRouter()
	r.Attach(tabID, NewEndpoint(h))
	t.Cleanup(r.Close)
	return r
}

func TestRouter_Execute(t *testing.T) {
	h := &fakeHandler{}
	r := newRouter(t, 7, h)

	result, err := r.Execute(context.Background(), 7, types.ToolClick, map[string]any{"selector": "#go", "x": 3})
	require.NoError(t, err)

	assert.Equal(t, true, result["ok"])
	assert.Equal(t, "click", result["tool"])
	// Values cross as JSON, so numbers come back as float64.
	assert.Equal(t, map[string]any{"selector": "#go", "x": float64(3)}, result["args"])
}

func TestRouter_ExecutePreservesErrorKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"sensitive field", actions.ErrSensitiveField, actions.ErrSensitiveField},
		{"wrapped target not found", errors.Join(errors.New("click"), actions.ErrTargetNotFound), actions.ErrTargetNotFound},
		{"missing key", actions.ErrMissingKey, actions.ErrMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, 1, &fakeHandler{err: tt.err})

			_, err := r.Execute(context.Background(), 1, types.ToolType, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.err.Error(), err.Error())
			assert.NotErrorIs(t, err, ErrTransport)
		})
	}
}

func TestRouter_PlainErrorKeepsMessage(t *testing.T) {
	r := newRouter(t, 1, &fakeHandler{err: errors.New("element detached")})

	_, err := r.Execute(context.Background(), 1, types.ToolClick, nil)
	require.Error(t, err)
	assert.Equal(t, "element detached", err.Error())
}

func TestRouter_UnknownTab(t *testing.T) {
	r := newRouter(t, 1, &fakeHandler{})

	_, err := r.Execute(context.Background(), 2, types.ToolClick, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestRouter_DetachedTab(t *testing.T) {
	r := newRouter(t, 1, &fakeHandler{})
	r.Detach(1)

	err := r.ShowCursor(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestRouter_CloseDuringCall(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	r := newRouter(t, 1, h)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Execute(context.Background(), 1, types.ToolClick, nil)
		errc <- err
	}()

	require.Eventually(t, func() bool { return h.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)
	r.Detach(1)

	select {
	case err := <-errc:
		// The handler saw its context cancelled; either that error or the
		// transport failure reaches the caller.
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after detach")
	}
}

func TestRouter_CallerContextCancelled(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	r := newRouter(t, 1, h)
	defer close(h.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, 1, types.ToolClick, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestRouter_RequestsAreSerialized(t *testing.T) {
	h := &fakeHandler{}
	r := newRouter(t, 1, h)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), 1, types.ToolScroll, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.maxSeen.Load())
	assert.Len(t, h.calls, 20)
}

func TestRouter_OrderFromOneCaller(t *testing.T) {
	h := &fakeHandler{}
	r := newRouter(t, 1, h)

	tools := []types.ToolName{types.ToolScroll, types.ToolClick, types.ToolType, types.ToolPressKey}
	for _, tool := range tools {
		_, err := r.Execute(context.Background(), 1, tool, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, tools, h.calls)
}

func TestRouter_CollectContext(t *testing.T) {
	pc := &types.PageContext{
		URL:         "https://example.com/",
		Title:       "Example",
		VisibleText: "hello",
		Links:       []types.Link{{Text: "More", Href: "https://example.com/more"}},
	}
	r := newRouter(t, 3, &fakeHandler{context: pc})

	got, err := r.CollectContext(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, pc, got)
	assert.NotSame(t, pc, got)
}

func TestRouter_Cursor(t *testing.T) {
	h := &fakeHandler{}
	r := newRouter(t, 1, h)

	require.NoError(t, r.ShowCursor(context.Background(), 1))
	require.NoError(t, r.HideCursor(context.Background(), 1))
	assert.Equal(t, []string{"show", "hide"}, h.cursor)
}

func TestRouter_AttachReplacesEndpoint(t *testing.T) {
	first := &fakeHandler{}
	second := &fakeHandler{}
	r := newRouter(t, 1, first)
	r.Attach(1, NewEndpoint(second))

	_, err := r.Execute(context.Background(), 1, types.ToolClick, nil)
	require.NoError(t, err)
	assert.Empty(t, first.calls)
	assert.Len(t, second.calls, 1)
}

func TestEndpoint_MalformedRequest(t *testing.T) {
	ep := NewEndpoint(&fakeHandler{})
	defer ep.Close()

	out, err := ep.roundTrip(context.Background(), []byte("{not json"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "malformed request")
}

func TestRouter_Notify(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	var got []int
	r.OnNotify(func(tabID int, n Notification) {
		assert.Equal(t, NotifyEscapeStop, n.Type)
		got = append(got, tabID)
	})

	r.Notify(4, []byte(`{"type":"escapeStop"}`))
	r.Notify(5, []byte(`{"type":"somethingElse"}`))
	r.Notify(6, []byte(`garbage`))

	assert.Equal(t, []int{4}, got)
}

func TestResponse_DecodeEmpty(t *testing.T) {
	var v map[string]any
	resp := &Response{ID: "x"}
	require.NoError(t, resp.Decode(&v))
	assert.Nil(t, v)
	assert.NoError(t, resp.Err())
}
