// Package controller drives plan execution for browser tabs. Each tab has
// at most one run; a run moves idle → running → (paused → running)* → idle
// and always unwinds to idle with the cursor hidden.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/config"
	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/planner"
	"github.com/entrhq/quickbar/pkg/tabstate"
	"github.com/entrhq/quickbar/pkg/types"
)

var (
	// ErrAlreadyRunning is returned by Start while the tab has a run. The
	// text shown to the user is MsgAlreadyRunning.
	ErrAlreadyRunning = errors.New("controller: agent already running")

	// ErrMissingURL is returned by open_tab steps without a url.
	ErrMissingURL = errors.New("open_tab missing url")

	// ErrBlockedNavigation is returned by open_tab steps targeting an
	// email inbox.
	ErrBlockedNavigation = errors.New("opening email inbox is blocked")
)

// Log texts written to a tab's run log.
const (
	MsgAlreadyRunning   = "Agent already running"
	MsgPlanReceived     = "Plan received"
	MsgSummary          = "Summary"
	MsgWaitingForAuth   = "Waiting for user authentication"
	MsgCancelled        = "Execution cancelled"
	MsgCompleted        = "Execution completed"
	MsgFailed           = "Execution failed"
	MsgCursorFailed     = "Failed to update cursor overlay"
	MsgContextShared    = "✅ Tab context shared."
	executingMsgPattern = "Executing %s"
)

// DefaultStopGrace bounds how long Start waits for a stopped run to
// finish unwinding before reporting the tab busy.
const DefaultStopGrace = 2 * time.Second

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("controller")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize controller logger, using stderr fallback: %v", err)
	}
}

// Tabs is the browser-level tab control the controller needs.
type Tabs interface {
	Info(ctx context.Context, tabID int) (types.TabInfo, error)
	Navigate(ctx context.Context, tabID int, url string) error
	OpenTab(ctx context.Context, url string) (int, error)
}

// Pages reaches the page side of a tab. *bridge.Router satisfies it.
type Pages interface {
	Execute(ctx context.Context, tabID int, tool types.ToolName, args map[string]any) (actions.Result, error)
	CollectContext(ctx context.Context, tabID int) (*types.PageContext, error)
	ShowCursor(ctx context.Context, tabID int) error
	HideCursor(ctx context.Context, tabID int) error
}

// Planner acquires plans. *planner.Client satisfies it.
type Planner interface {
	FetchSchema(ctx context.Context) json.RawMessage
	RequestPlan(ctx context.Context, req planner.Request) (*types.Plan, error)
}

// Controller owns the runs of every tab.
type Controller struct {
	states  *tabstate.Manager
	tabs    Tabs
	pages   Pages
	planner Planner

	searchUIURL func() string
	blocked     func(rawURL string) bool
	engine      func(name string) (config.SearchEngine, error)
	emit        types.EventEmitter
	stopGrace   time.Duration

	mu   sync.Mutex
	runs map[int]*run
}

// Option configures a Controller.
type Option func(*Controller)

// WithSearchUIURL sets the source of the search UI base URL used by
// search_default steps. It is read on every step.
func WithSearchUIURL(fn func() string) Option {
	return func(c *Controller) {
		c.searchUIURL = fn
	}
}

// WithNavigationGuard sets the predicate that refuses open_tab targets.
func WithNavigationGuard(blocked func(rawURL string) bool) Option {
	return func(c *Controller) {
		c.blocked = blocked
	}
}

// WithEngineLookup sets how startTask engine overrides are resolved. An
// override the lookup rejects fails Start.
func WithEngineLookup(lookup func(name string) (config.SearchEngine, error)) Option {
	return func(c *Controller) {
		c.engine = lookup
	}
}

// WithEventEmitter sets the receiver of authRequired notifications.
func WithEventEmitter(emit types.EventEmitter) Option {
	return func(c *Controller) {
		c.emit = emit
	}
}

// New creates a controller.
func New(states *tabstate.Manager, tabs Tabs, pages Pages, p Planner, opts ...Option) *Controller {
	c := &Controller{
		states:      states,
		tabs:        tabs,
		pages:       pages,
		planner:     p,
		searchUIURL: func() string { return config.DefaultSearchUIURL },
		blocked:     config.NewSafetySection().IsBlockedNavigation,
		engine:      config.NewSearchSection().Engine,
		emit:        func(*types.Event) {},
		stopGrace:   DefaultStopGrace,
		runs:        make(map[int]*run),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a run for goal on tabID. The run is registered and the tab
// marked running before Start returns; the plan is acquired and executed
// in the background. Failures after that point are reported only through
// the tab's log.
//
// A run that was stopped but has not unwound yet is waited for, up to the
// stop grace period, so that stop followed by start succeeds.
func (c *Controller) Start(ctx context.Context, tabID int, goal string, opts types.TaskOptions) error {
	if opts.EngineOverride != "" {
		e, err := c.engine(opts.EngineOverride)
		if err != nil {
			return err
		}
		opts.EngineOverride = e.Name
	}

	if prev := c.lookup(tabID); prev != nil && prev.isCancelled() {
		c.awaitUnwind(ctx, prev)
	}

	c.mu.Lock()
	if _, busy := c.runs[tabID]; busy {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := newRun(context.WithoutCancel(ctx))
	c.runs[tabID] = r
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := c.states.ResetLogs(bg, tabID); err != nil {
		log.Warnf("Resetting logs for tab %d: %v", tabID, err)
	}
	if err := c.states.SetStatus(bg, tabID, types.StatusRunning); err != nil {
		log.Warnf("Marking tab %d running: %v", tabID, err)
	}

	log.Infof("Starting run on tab %d", tabID)
	go c.execute(r, tabID, goal, opts)
	return nil
}

// Stop cancels the tab's run, hides the cursor and marks the tab idle.
// A paused run is released so it can unwind.
func (c *Controller) Stop(ctx context.Context, tabID int) error {
	if r := c.lookup(tabID); r != nil {
		r.stop()
	}
	c.setCursor(ctx, tabID, false)
	return c.states.SetStatus(ctx, tabID, types.StatusIdle)
}

// EscapeStop is Stop triggered from the page's Escape gesture.
func (c *Controller) EscapeStop(ctx context.Context, tabID int) error {
	return c.Stop(ctx, tabID)
}

// ContinueAuth resumes a run paused for authentication. It is a no-op
// when the tab has no paused run.
func (c *Controller) ContinueAuth(tabID int) {
	if r := c.lookup(tabID); r != nil {
		r.release()
	}
}

// CollectTabContext snapshots the tab's page and stores it as the context
// shared with the planner on the next run.
func (c *Controller) CollectTabContext(ctx context.Context, tabID int) (*types.PageContext, error) {
	pc, err := c.pages.CollectContext(ctx, tabID)
	if err != nil {
		return nil, fmt.Errorf("collecting context of tab %d: %w", tabID, err)
	}
	if err := c.states.SetSharedContext(ctx, tabID, pc); err != nil {
		return nil, err
	}
	if err := c.states.AppendChat(ctx, tabID, types.ChatEntry{Role: types.RoleSystem, Content: MsgContextShared}); err != nil {
		return nil, err
	}
	return pc, nil
}

// TabClosed cancels the tab's run and deletes its state.
func (c *Controller) TabClosed(ctx context.Context, tabID int) error {
	if r := c.lookup(tabID); r != nil {
		r.stop()
	}
	return c.states.Remove(ctx, tabID)
}

// Running reports whether the tab has a run that has not unwound yet.
func (c *Controller) Running(tabID int) bool {
	return c.lookup(tabID) != nil
}

// Paused reports whether the tab's run is waiting on the resume latch.
func (c *Controller) Paused(tabID int) bool {
	r := c.lookup(tabID)
	return r != nil && r.isPaused()
}

// Wait blocks until the tab's current run, if any, has unwound.
func (c *Controller) Wait(ctx context.Context, tabID int) error {
	r := c.lookup(tabID)
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every run and waits for them to unwind.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.stop()
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) awaitUnwind(ctx context.Context, r *run) {
	timer := time.NewTimer(c.stopGrace)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Controller) lookup(tabID int) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[tabID]
}

// setCursor toggles the page cursor. Failures are logged to the tab and
// never abort the caller.
func (c *Controller) setCursor(ctx context.Context, tabID int, visible bool) {
	var err error
	if visible {
		err = c.pages.ShowCursor(ctx, tabID)
	} else {
		err = c.pages.HideCursor(ctx, tabID)
	}
	if err != nil {
		c.appendLog(ctx, tabID, types.LogLevelError, MsgCursorFailed, err.Error())
	}
}

func (c *Controller) appendLog(ctx context.Context, tabID int, level types.LogLevel, message, detail string) {
	if err := c.states.AppendLog(ctx, tabID, level, message, detail); err != nil {
		log.Warnf("Appending log to tab %d: %v", tabID, err)
	}
}
