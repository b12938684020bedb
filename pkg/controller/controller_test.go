package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/config"
	"github.com/entrhq/quickbar/pkg/planner"
	"github.com/entrhq/quickbar/pkg/store"
	"github.com/entrhq/quickbar/pkg/tabstate"
	"github.com/entrhq/quickbar/pkg/types"
)

func TestMain(m *testing.M) {
	// Opening the log file starts the rotator's background goroutine.
	log.Debugf("controller tests starting")
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

const tabID = 1

type fakeTabs struct {
	mu        sync.Mutex
	navigated []string
	opened    []string
	infoErr   error
}

func (f *fakeTabs) Info(ctx context.Context, id int) (types.TabInfo, error) {
	if f.infoErr != nil {
		return types.TabInfo{}, f.infoErr
	}
	return types.NewTabInfo("https://example.com/start", "Start"), nil
}

func (f *fakeTabs) Navigate(ctx context.Context, id int, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeTabs) OpenTab(ctx context.Context, url string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	return 100 + len(f.opened), nil
}

type fakePages struct {
	mu        sync.Mutex
	executed  []types.ToolName
	cursor    []string
	errs      map[types.ToolName]error
	results   map[types.ToolName]actions.Result
	cursorErr error
	context   *types.PageContext
	panicOn   types.ToolName
	hideGate  chan struct{}
}

func (f *fakePages) Execute(ctx context.Context, id int, tool types.ToolName, args map[string]any) (actions.Result, error) {
	if tool == f.panicOn {
		panic("page exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, tool)
	if err := f.errs[tool]; err != nil {
		return nil, err
	}
	if r, ok := f.results[tool]; ok {
		return r, nil
	}
	return actions.Result{"ok": true}, nil
}

func (f *fakePages) CollectContext(ctx context.Context, id int) (*types.PageContext, error) {
	return f.context.Clone(), nil
}

func (f *fakePages) ShowCursor(ctx context.Context, id int) error {
	return f.toggle("show")
}

func (f *fakePages) HideCursor(ctx context.Context, id int) error {
	f.mu.Lock()
	gate := f.hideGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.toggle("hide")
}

// holdHide makes HideCursor block until the returned func is called.
func (f *fakePages) holdHide() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.hideGate = gate
	f.mu.Unlock()
	return func() { close(gate) }
}

func (f *fakePages) toggle(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursorErr != nil {
		return f.cursorErr
	}
	f.cursor = append(f.cursor, op)
	return nil
}

func (f *fakePages) executedTools() []types.ToolName {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ToolName(nil), f.executed...)
}

type fakePlanner struct {
	mu       sync.Mutex
	plan     *types.Plan
	err      error
	block    bool
	requests []planner.Request
}

func (f *fakePlanner) FetchSchema(ctx context.Context) json.RawMessage { return nil }

func (f *fakePlanner) RequestPlan(ctx context.Context, req planner.Request) (*types.Plan, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block, plan, err := f.block, f.plan, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", planner.ErrTransport, ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return plan.Clone(), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []*types.Event
}

func (e *eventLog) emit(ev *types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// statuses returns the tab's status transitions with repeats collapsed.
func (e *eventLog) statuses(id int) []types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Status
	for _, ev := range e.events {
		if ev.Type != types.EventTypeTabStateUpdated || ev.TabID != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != ev.State.Status {
			out = append(out, ev.State.Status)
		}
	}
	return out
}

func (e *eventLog) count(typ types.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl    *Controller
	states  *tabstate.Manager
	store   store.Store
	tabs    *fakeTabs
	pages   *fakePages
	planner *fakePlanner
	events  *eventLog
}

func newHarness(t *testing.T, plan *types.Plan, p Planner) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemoryStore(),
		tabs:    &fakeTabs{},
		pages:   &fakePages{},
		planner: &fakePlanner{plan: plan},
		events:  &eventLog{},
	}
	h.states = tabstate.NewManager(h.store)
	h.states.Subscribe(h.events.emit)
	if p == nil {
		p = h.planner
	}
	h.ctrl = New(h.states, h.tabs, h.pages, p, WithEventEmitter(h.events.emit))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, h.ctrl.Shutdown(ctx))
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx, tabID))
}

func (h *harness) state(t *testing.T) *types.TabState {
	t.Helper()
	s, err := h.states.Get(context.Background(), tabID)
	require.NoError(t, err)
	return s
}

func (h *harness) messages(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, l := range h.state(t).Logs {
		out = append(out, l.Message)
	}
	return out
}

func lastLog(t *testing.T, s *types.TabState) types.LogEntry {
	t.Helper()
	require.NotEmpty(t, s.Logs)
	return s.Logs[len(s.Logs)-1]
}

func steps(tools ...types.ToolName) *types.Plan {
	plan := &types.Plan{Summary: "test plan"}
	for _, tool := range tools {
		plan.Steps = append(plan.Steps, types.Step{Tool: tool, Args: map[string]any{}})
	}
	return plan
}

func plannerServer(t *testing.T, body string) *planner.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schema":
			_, _ = w.Write([]byte(`{"type":"object"}`))
		case "/plan":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return planner.NewClient(srv.URL, planner.WithHTTPClient(srv.Client()))
}

func TestController_SearchEndToEnd(t *testing.T) {
	client := plannerServer(t, `{"steps":[{"tool":"search_default","args":{"query":"cats"}}],"summary":"search for cats"}`)
	h := newHarness(t, nil, client)

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "search cats", types.TaskOptions{Mode: "auto"}))
	h.wait(t)

	assert.Equal(t, []string{"https://search.fera.ai/?q=cats&tab=all"}, h.tabs.navigated)
	assert.Equal(t, []types.Status{types.StatusIdle, types.StatusRunning, types.StatusIdle}, h.events.statuses(tabID))

	state := h.state(t)
	completed := 0
	for _, l := range state.Logs {
		if l.Message == MsgCompleted {
			assert.Equal(t, types.LogLevelInfo, l.Level)
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, []string{MsgPlanReceived, "Executing search_default", MsgCompleted}, h.messages(t))
	assert.Equal(t, "search for cats", state.Logs[0].Detail)
	assert.Equal(t, `{"query":"cats"}`, state.Logs[1].Detail)
	require.NotNil(t, state.LastPlan)
	assert.Equal(t, "search for cats", state.LastPlan.Summary)
	assert.Equal(t, []string{"show", "hide"}, h.pages.cursor)
	assert.False(t, h.ctrl.Running(tabID))
}

func TestController_SearchUsesConfiguredURL(t *testing.T) {
	plan := &types.Plan{Steps: []types.Step{{Tool: types.ToolSearchDefault, Args: map[string]any{"query": "red shoes", "tab": "images"}}}}
	h := newHarness(t, plan, nil)
	h.ctrl.searchUIURL = func() string { return "https://search.example.org/" }

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "shoes", types.TaskOptions{}))
	h.wait(t)

	assert.Equal(t, []string{"https://search.example.org/?q=red%20shoes&tab=images"}, h.tabs.navigated)
}

func TestController_AlreadyRunning(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "first", types.TaskOptions{}))
	require.NoError(t, h.states.AppendLog(ctx, tabID, types.LogLevelInfo, "marker", ""))

	err := h.ctrl.Start(ctx, tabID, "second", types.TaskOptions{})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, h.messages(t), "marker")
	assert.Equal(t, types.StatusRunning, h.state(t).Status)

	require.NoError(t, h.ctrl.Stop(ctx, tabID))
	h.wait(t)
}

func TestController_StartAfterStop(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "first", types.TaskOptions{}))
	require.Eventually(t, func() bool {
		h.planner.mu.Lock()
		defer h.planner.mu.Unlock()
		return len(h.planner.requests) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Keep the stopped run from unwinding until released.
	release := h.pages.holdHide()
	stopped := make(chan error, 1)
	go func() { stopped <- h.ctrl.Stop(ctx, tabID) }()
	require.Eventually(t, func() bool {
		r := h.ctrl.lookup(tabID)
		return r != nil && r.isCancelled()
	}, 2*time.Second, 5*time.Millisecond)

	started := make(chan error, 1)
	go func() { started <- h.ctrl.Start(ctx, tabID, "second", types.TaskOptions{}) }()

	select {
	case err := <-started:
		t.Fatalf("start returned before the stopped run unwound: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-stopped)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start never returned")
	}

	assert.True(t, h.ctrl.Running(tabID))
	require.Eventually(t, func() bool {
		h.planner.mu.Lock()
		defer h.planner.mu.Unlock()
		return len(h.planner.requests) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Stop(ctx, tabID))
	h.wait(t)
}

func TestController_StartAfterStopGivesUp(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	h.ctrl.stopGrace = 20 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "first", types.TaskOptions{}))

	release := h.pages.holdHide()
	stopped := make(chan error, 1)
	go func() { stopped <- h.ctrl.Stop(ctx, tabID) }()
	require.Eventually(t, func() bool {
		r := h.ctrl.lookup(tabID)
		return r != nil && r.isCancelled()
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.ctrl.Start(ctx, tabID, "second", types.TaskOptions{}), ErrAlreadyRunning)

	release()
	require.NoError(t, <-stopped)
	h.wait(t)
}

func TestController_EngineOverride(t *testing.T) {
	h := newHarness(t, steps(types.ToolScroll), nil)
	ctx := context.Background()

	err := h.ctrl.Start(ctx, tabID, "goal", types.TaskOptions{EngineOverride: "AskJeeves"})
	require.ErrorIs(t, err, config.ErrUnknownEngine)
	assert.False(t, h.ctrl.Running(tabID))
	assert.Empty(t, h.planner.requests)

	require.NoError(t, h.ctrl.Start(ctx, tabID, "goal", types.TaskOptions{EngineOverride: "Brave"}))
	h.wait(t)

	h.planner.mu.Lock()
	defer h.planner.mu.Unlock()
	require.Len(t, h.planner.requests, 1)
	assert.Equal(t, "Brave", h.planner.requests[0].SearchEngineOverride)
}

func TestController_InvalidPlanRunsNothing(t *testing.T) {
	client := plannerServer(t, `{"steps":[{"tool":"click","args":{"selector":"#a"}},{"tool":"delete_everything"}]}`)
	h := newHarness(t, nil, client)

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "do it", types.TaskOptions{}))
	h.wait(t)

	assert.Empty(t, h.pages.executedTools())
	state := h.state(t)
	last := lastLog(t, state)
	assert.Equal(t, MsgFailed, last.Message)
	assert.Equal(t, types.LogLevelError, last.Level)
	assert.Contains(t, last.Detail, "delete_everything")
	assert.Nil(t, state.LastPlan)
	assert.Equal(t, types.StatusIdle, state.Status)
}

func TestController_PlannerFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.err = fmt.Errorf("%w: planner error 503", planner.ErrTransport)

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "goal", types.TaskOptions{}))
	h.wait(t)

	last := lastLog(t, h.state(t))
	assert.Equal(t, MsgFailed, last.Message)
	assert.Contains(t, last.Detail, "planner error 503")
	assert.Equal(t, []string{"show", "hide"}, h.pages.cursor)
}

func TestController_PauseAndContinue(t *testing.T) {
	h := newHarness(t, steps(types.ToolWaitForUserAuth, types.ToolClick), nil)

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "log in then click", types.TaskOptions{}))
	require.Eventually(t, func() bool { return h.ctrl.Paused(tabID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, types.StatusPaused, h.state(t).Status)
	assert.Equal(t, 1, h.events.count(types.EventTypeAuthRequired))
	assert.Empty(t, h.pages.executedTools())
	assert.Equal(t, MsgWaitingForAuth, lastLog(t, h.state(t)).Message)

	h.ctrl.ContinueAuth(tabID)
	h.wait(t)

	assert.Equal(t, []types.ToolName{types.ToolClick}, h.pages.executedTools())
	assert.Equal(t, 1, h.events.count(types.EventTypeAuthRequired))
	assert.Equal(t, []string{
		MsgPlanReceived,
		"Executing wait_for_user_auth",
		MsgWaitingForAuth,
		"Executing click",
		MsgCompleted,
	}, h.messages(t))
	assert.Equal(t, []types.Status{
		types.StatusIdle,
		types.StatusRunning,
		types.StatusPaused,
		types.StatusRunning,
		types.StatusIdle,
	}, h.events.statuses(tabID))
}

func TestController_ContinueAuthOnNotification(t *testing.T) {
	h := newHarness(t, steps(types.ToolWaitForUserAuth, types.ToolClick), nil)
	h.ctrl.emit = func(ev *types.Event) {
		h.events.emit(ev)
		if ev.Type == types.EventTypeAuthRequired {
			h.ctrl.ContinueAuth(ev.TabID)
		}
	}

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "log in then click", types.TaskOptions{}))
	h.wait(t)

	assert.Equal(t, []types.ToolName{types.ToolClick}, h.pages.executedTools())
	assert.Equal(t, 1, h.events.count(types.EventTypeAuthRequired))
	assert.Equal(t, types.StatusIdle, h.state(t).Status)
	assert.Equal(t, MsgCompleted, lastLog(t, h.state(t)).Message)
}

func TestController_StopWhilePaused(t *testing.T) {
	h := newHarness(t, steps(types.ToolWaitForUserAuth, types.ToolClick), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "log in", types.TaskOptions{}))
	require.Eventually(t, func() bool { return h.ctrl.Paused(tabID) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Stop(ctx, tabID))
	assert.Equal(t, types.StatusIdle, h.state(t).Status)
	h.wait(t)

	assert.Empty(t, h.pages.executedTools())
	state := h.state(t)
	assert.Equal(t, types.StatusIdle, state.Status)
	last := lastLog(t, state)
	assert.Equal(t, MsgCancelled, last.Message)
	assert.Equal(t, types.LogLevelWarning, last.Level)
	assert.Equal(t, "hide", h.pages.cursor[len(h.pages.cursor)-1])
	assert.False(t, h.ctrl.Running(tabID))
}

func TestController_EscapeStopDuringPlanning(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "goal", types.TaskOptions{}))
	require.Eventually(t, func() bool {
		h.planner.mu.Lock()
		defer h.planner.mu.Unlock()
		return len(h.planner.requests) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.EscapeStop(ctx, tabID))
	h.wait(t)

	assert.Equal(t, MsgCancelled, lastLog(t, h.state(t)).Message)
	assert.Equal(t, types.StatusIdle, h.state(t).Status)
}

func TestController_ContinueAuthWithoutRun(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.NotPanics(t, func() { h.ctrl.ContinueAuth(tabID) })
	assert.False(t, h.ctrl.Paused(tabID))
}

func TestController_OpenTab(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr error
		opened  []string
	}{
		{"plain site", map[string]any{"url": "https://example.com"}, nil, []string{"https://example.com"}},
		{"gmail inbox", map[string]any{"url": "https://mail.google.com/mail/u/0/#inbox"}, ErrBlockedNavigation, nil},
		{"outlook", map[string]any{"url": "https://outlook.live.com/owa/"}, ErrBlockedNavigation, nil},
		{"mail path", map[string]any{"url": "https://example.com/mail/inbox"}, ErrBlockedNavigation, nil},
		{"missing url", map[string]any{}, ErrMissingURL, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &types.Plan{Steps: []types.Step{{Tool: types.ToolOpenTab, Args: tt.args}}}
			h := newHarness(t, plan, nil)

			require.NoError(t, h.ctrl.Start(context.Background(), tabID, "open", types.TaskOptions{}))
			h.wait(t)

			assert.Equal(t, tt.opened, h.tabs.opened)
			last := lastLog(t, h.state(t))
			if tt.wantErr != nil {
				assert.Equal(t, MsgFailed, last.Message)
				assert.Contains(t, last.Detail, tt.wantErr.Error())
			} else {
				assert.Equal(t, MsgCompleted, last.Message)
			}
		})
	}
}

func TestController_ExecuteStepErrors(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.ctrl.executeStep(ctx, tabID, types.Step{Tool: types.ToolOpenTab, Args: map[string]any{"url": "https://mail.yahoo.com"}})
	assert.ErrorIs(t, err, ErrBlockedNavigation)

	_, err = h.ctrl.executeStep(ctx, tabID, types.Step{Tool: types.ToolOpenTab})
	assert.ErrorIs(t, err, ErrMissingURL)

	result, err := h.ctrl.executeStep(ctx, tabID, types.Step{Tool: types.ToolWaitForUserAuth})
	require.NoError(t, err)
	assert.Equal(t, actions.Result{"wait": true}, result)
	assert.Empty(t, h.pages.executedTools())
}

func TestController_StepFailureStopsRun(t *testing.T) {
	h := newHarness(t, steps(types.ToolType, types.ToolClick), nil)
	h.pages.errs = map[types.ToolName]error{types.ToolType: actions.ErrSensitiveField}

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "sign in", types.TaskOptions{}))
	h.wait(t)

	assert.Equal(t, []types.ToolName{types.ToolType}, h.pages.executedTools())
	last := lastLog(t, h.state(t))
	assert.Equal(t, MsgFailed, last.Message)
	assert.Equal(t, types.LogLevelError, last.Level)
	assert.Contains(t, last.Detail, actions.ErrSensitiveField.Error())
}

func TestController_SummaryLogged(t *testing.T) {
	h := newHarness(t, steps(types.ToolSummarizePage), nil)
	h.pages.results = map[types.ToolName]actions.Result{
		types.ToolSummarizePage: {"summary": "A page about cats."},
	}

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "summarize", types.TaskOptions{}))
	h.wait(t)

	var found bool
	for _, l := range h.state(t).Logs {
		if l.Message == MsgSummary {
			found = true
			assert.Equal(t, "A page about cats.", l.Detail)
		}
	}
	assert.True(t, found)
}

func TestController_CursorFailureIsLogged(t *testing.T) {
	h := newHarness(t, steps(types.ToolScroll), nil)
	h.pages.cursorErr = errors.New("no receiver")

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "scroll", types.TaskOptions{}))
	h.wait(t)

	msgs := h.messages(t)
	assert.Contains(t, msgs, MsgCompleted)
	assert.Equal(t, MsgCursorFailed, msgs[len(msgs)-1])
	for _, l := range h.state(t).Logs {
		if l.Message == MsgCursorFailed {
			assert.Equal(t, types.LogLevelError, l.Level)
			assert.Equal(t, "no receiver", l.Detail)
		}
	}
	assert.Equal(t, []types.ToolName{types.ToolScroll}, h.pages.executedTools())
	assert.Equal(t, types.StatusIdle, h.state(t).Status)
}

func TestController_PanicStillCleansUp(t *testing.T) {
	h := newHarness(t, steps(types.ToolClick), nil)
	h.pages.panicOn = types.ToolClick

	require.NoError(t, h.ctrl.Start(context.Background(), tabID, "click", types.TaskOptions{}))
	h.wait(t)

	state := h.state(t)
	assert.Equal(t, types.StatusIdle, state.Status)
	assert.Equal(t, MsgFailed, lastLog(t, state).Message)
	assert.Equal(t, "hide", h.pages.cursor[len(h.pages.cursor)-1])
	assert.False(t, h.ctrl.Running(tabID))
}

func TestController_SharedContextInRequest(t *testing.T) {
	h := newHarness(t, steps(), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "first", types.TaskOptions{Mode: "ask"}))
	h.wait(t)

	h.pages.context = &types.PageContext{URL: "https://example.com/doc", Title: "Doc", VisibleText: "body"}
	pc, err := h.ctrl.CollectTabContext(ctx, tabID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/doc", pc.URL)

	state := h.state(t)
	require.NotEmpty(t, state.ChatHistory)
	chat := state.ChatHistory[len(state.ChatHistory)-1]
	assert.Equal(t, types.RoleSystem, chat.Role)
	assert.Equal(t, MsgContextShared, chat.Content)
	assert.NotZero(t, chat.Timestamp)

	require.NoError(t, h.ctrl.Start(ctx, tabID, "second", types.TaskOptions{Mode: "auto", EngineOverride: "DuckDuckGo"}))
	h.wait(t)

	require.Len(t, h.planner.requests, 2)
	first, second := h.planner.requests[0], h.planner.requests[1]

	assert.False(t, first.UserSentTab)
	assert.Equal(t, types.NewTabInfo("https://example.com/start", "Start"), first.Tab)
	assert.Equal(t, "ask", first.Mode)
	assert.True(t, first.UserConfirmedTaskStart)

	assert.True(t, second.UserSentTab)
	assert.Equal(t, pc, second.Tab)
	assert.Equal(t, "DuckDuckGo", second.SearchEngineOverride)
}

func TestController_TabClosed(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, tabID, "goal", types.TaskOptions{}))
	require.NoError(t, h.ctrl.TabClosed(ctx, tabID))
	h.wait(t)

	_, err := h.store.Get(ctx, tabstate.Key(tabID))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, h.ctrl.Running(tabID))
}

func TestController_TabsAreIndependent(t *testing.T) {
	h := newHarness(t, steps(types.ToolWaitForUserAuth), nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, 1, "a", types.TaskOptions{}))
	require.NoError(t, h.ctrl.Start(ctx, 2, "b", types.TaskOptions{}))
	require.Eventually(t, func() bool { return h.ctrl.Paused(1) && h.ctrl.Paused(2) }, 2*time.Second, 5*time.Millisecond)

	h.ctrl.ContinueAuth(2)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(waitCtx, 2))

	assert.True(t, h.ctrl.Paused(1))
	s2, err := h.states.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIdle, s2.Status)
	assert.Equal(t, MsgCompleted, lastLog(t, s2).Message)
}

func TestController_Shutdown(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.planner.block = true
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, 1, "a", types.TaskOptions{}))
	require.NoError(t, h.ctrl.Start(ctx, 2, "b", types.TaskOptions{}))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(shutdownCtx))

	assert.False(t, h.ctrl.Running(1))
	assert.False(t, h.ctrl.Running(2))
}

func TestSearchURL(t *testing.T) {
	tests := []struct {
		base, query, scope string
		want               string
	}{
		{"https://search.fera.ai", "cats", "", "https://search.fera.ai/?q=cats&tab=all"},
		{"https://search.fera.ai/", "cats & dogs", "news", "https://search.fera.ai/?q=cats%20%26%20dogs&tab=news"},
		{"http://localhost:3000", "", "", "http://localhost:3000/?q=&tab=all"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchURL(tt.base, tt.query, tt.scope))
		})
	}
}
