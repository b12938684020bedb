package types

// ToolName is one primitive of the closed automation vocabulary.
type ToolName string

const (
	ToolClick           ToolName = "click"
	ToolOpenTab         ToolName = "open_tab"
	ToolPressKey        ToolName = "press_key"
	ToolScroll          ToolName = "scroll"
	ToolSearchDefault   ToolName = "search_default"
	ToolSummarizePage   ToolName = "summarize_page"
	ToolType            ToolName = "type"
	ToolWaitForUserAuth ToolName = "wait_for_user_auth"
)

// AllTools lists the complete tool vocabulary in a stable order.
func AllTools() []ToolName {
	return []ToolName{
		ToolClick,
		ToolOpenTab,
		ToolPressKey,
		ToolScroll,
		ToolSearchDefault,
		ToolSummarizePage,
		ToolType,
		ToolWaitForUserAuth,
	}
}

// IsKnownTool reports whether name belongs to the vocabulary.
func IsKnownTool(name string) bool {
	for _, t := range AllTools() {
		if string(t) == name {
			return true
		}
	}
	return false
}

// Step is a single tool invocation of a plan.
type Step struct {
	Tool ToolName       `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Plan is the ordered list of steps returned by the planner for one goal.
type Plan struct {
	Steps   []Step `json:"steps"`
	Summary string `json:"summary,omitempty"`
}

// Clone returns a copy of the plan. Argument maps are copied one level
// deep, which is enough because steps are never mutated after validation.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Summary: p.Summary, Steps: make([]Step, len(p.Steps))}
	for i, step := range p.Steps {
		args := make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			args[k] = v
		}
		out.Steps[i] = Step{Tool: step.Tool, Args: args}
	}
	return out
}
