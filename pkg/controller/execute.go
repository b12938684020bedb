package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/planner"
	"github.com/entrhq/quickbar/pkg/types"
)

// execute runs r to completion. Whatever happens, the cursor is hidden,
// the tab returns to idle and the run is unregistered.
func (c *Controller) execute(r *run, tabID int, goal string, opts types.TaskOptions) {
	// Cleanup writes must land even though r.ctx is cancelled by then.
	bg := context.WithoutCancel(r.ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Run on tab %d panicked: %v", tabID, p)
			c.appendLog(bg, tabID, types.LogLevelError, MsgFailed, fmt.Sprint(p))
		}

		c.setCursor(bg, tabID, false)
		if err := c.states.SetStatus(bg, tabID, types.StatusIdle); err != nil {
			log.Warnf("Marking tab %d idle: %v", tabID, err)
		}

		c.mu.Lock()
		if c.runs[tabID] == r {
			delete(c.runs, tabID)
		}
		c.mu.Unlock()

		r.cancel()
		close(r.done)
		log.Infof("Run on tab %d finished", tabID)
	}()

	c.setCursor(bg, tabID, true)

	err := c.runPlan(r, tabID, goal, opts)
	switch {
	case r.isCancelled():
		c.appendLog(bg, tabID, types.LogLevelWarning, MsgCancelled, "")
	case err != nil:
		log.Warnf("Run on tab %d failed: %v", tabID, err)
		c.appendLog(bg, tabID, types.LogLevelError, MsgFailed, err.Error())
	default:
		c.appendLog(bg, tabID, types.LogLevelInfo, MsgCompleted, "")
	}
}

// runPlan acquires the plan and executes its steps in order. It returns at
// the first failing step; cancellation is observed between steps and at
// the pause latch.
func (c *Controller) runPlan(r *run, tabID int, goal string, opts types.TaskOptions) error {
	ctx := r.ctx
	bg := context.WithoutCancel(ctx)

	plan, err := c.acquirePlan(ctx, tabID, goal, opts)
	if err != nil {
		return err
	}

	for _, step := range plan.Steps {
		if r.isCancelled() {
			return nil
		}

		c.appendLog(bg, tabID, types.LogLevelInfo, fmt.Sprintf(executingMsgPattern, step.Tool), encodeArgs(step.Args))

		result, err := c.executeStep(ctx, tabID, step)
		if err != nil {
			return fmt.Errorf("%s: %w", step.Tool, err)
		}

		if wait, _ := result["wait"].(bool); wait {
			if err := c.pause(r, tabID); err != nil {
				return err
			}
			if r.isCancelled() {
				return nil
			}
			continue
		}

		if summary, _ := result["summary"].(string); summary != "" {
			c.appendLog(bg, tabID, types.LogLevelInfo, MsgSummary, summary)
		}
	}
	return nil
}

func (c *Controller) acquirePlan(ctx context.Context, tabID int, goal string, opts types.TaskOptions) (*types.Plan, error) {
	c.planner.FetchSchema(ctx)

	state, err := c.states.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	info, err := c.tabs.Info(ctx, tabID)
	if err != nil {
		return nil, fmt.Errorf("reading tab %d: %w", tabID, err)
	}

	plan, err := c.planner.RequestPlan(ctx, planner.NewRequest(goal, state.SharedContext, info, opts))
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	if err := c.states.SetLastPlan(bg, tabID, plan); err != nil {
		log.Warnf("Storing plan for tab %d: %v", tabID, err)
	}
	c.appendLog(bg, tabID, types.LogLevelInfo, MsgPlanReceived, plan.Summary)
	return plan, nil
}

// pause suspends the run until ContinueAuth or cancellation.
func (c *Controller) pause(r *run, tabID int) error {
	ctx := context.WithoutCancel(r.ctx)

	// Armed before anyone can observe the pause, so an immediate
	// ContinueAuth is not lost.
	latch := r.suspend()

	if err := c.states.SetStatus(ctx, tabID, types.StatusPaused); err != nil {
		log.Warnf("Marking tab %d paused: %v", tabID, err)
	}
	c.emit(types.NewAuthRequiredEvent(tabID))
	c.appendLog(ctx, tabID, types.LogLevelInfo, MsgWaitingForAuth, "")

	select {
	case <-latch:
	case <-r.ctx.Done():
	}
	r.release()

	if r.isCancelled() {
		return nil
	}
	return c.states.SetStatus(ctx, tabID, types.StatusRunning)
}

// executeStep runs one step. Tab-level tools are handled here; the rest
// cross to the page.
func (c *Controller) executeStep(ctx context.Context, tabID int, step types.Step) (actions.Result, error) {
	switch step.Tool {
	case types.ToolOpenTab:
		target, _ := step.Args["url"].(string)
		if target == "" {
			return nil, ErrMissingURL
		}
		if c.blocked(target) {
			return nil, ErrBlockedNavigation
		}
		if _, err := c.tabs.OpenTab(ctx, target); err != nil {
			return nil, err
		}
		return actions.Result{"ok": true}, nil

	case types.ToolSearchDefault:
		query, _ := step.Args["query"].(string)
		scope, _ := step.Args["tab"].(string)
		if err := c.tabs.Navigate(ctx, tabID, SearchURL(c.searchUIURL(), query, scope)); err != nil {
			return nil, err
		}
		return actions.Result{"ok": true}, nil

	case types.ToolWaitForUserAuth:
		return actions.Result{"wait": true}, nil

	default:
		args := step.Args
		if args == nil {
			args = map[string]any{}
		}
		result, err := c.pages.Execute(ctx, tabID, step.Tool, args)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = actions.Result{"ok": true}
		}
		return result, nil
	}
}

// SearchURL builds the search UI address for query. An empty scope
// searches everything.
func SearchURL(base, query, scope string) string {
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("%s/?q=%s&tab=%s", strings.TrimRight(base, "/"), escapeComponent(query), escapeComponent(scope))
}

// escapeComponent percent-encodes s for use inside a query value, with
// spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func encodeArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}
