package planner

import (
	"fmt"

	"github.com/entrhq/quickbar/pkg/types"
	"github.com/tidwall/gjson"
)

// ToolFilter reports whether a tool may appear in a plan.
type ToolFilter func(tool string) bool

// Validate checks a raw planner payload and decodes it. Every step is
// checked before anything is returned, so a plan is accepted whole or not
// at all. A nil allowed filter accepts the full tool vocabulary.
//
// The plan is built from the same parse that was checked. Objects that
// repeat a key are rejected, since JSON decoders disagree on which
// occurrence wins.
func Validate(raw []byte, allowed ToolFilter) (*types.Plan, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: planner returned invalid JSON", ErrInvalidPlan)
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: planner returned invalid JSON object", ErrInvalidPlan)
	}
	if key, ok := duplicateKey(doc); ok {
		return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidPlan, key)
	}

	steps := doc.Get("steps")
	if !steps.IsArray() {
		return nil, fmt.Errorf("%w: planner response missing steps", ErrInvalidPlan)
	}

	plan := &types.Plan{Steps: []types.Step{}}
	if summary := doc.Get("summary"); summary.Exists() && summary.Type != gjson.Null {
		if summary.Type != gjson.String {
			return nil, fmt.Errorf("%w: summary must be a string", ErrInvalidPlan)
		}
		plan.Summary = summary.Str
	}

	for i, step := range steps.Array() {
		if !step.IsObject() {
			return nil, fmt.Errorf("%w: step %d is not an object", ErrInvalidStep, i)
		}
		if key, ok := duplicateKey(step); ok {
			return nil, fmt.Errorf("%w: step %d repeats key %q", ErrInvalidStep, i, key)
		}
		tool := step.Get("tool")
		if tool.Type != gjson.String {
			return nil, fmt.Errorf("%w: step %d missing tool", ErrInvalidStep, i)
		}
		if !types.IsKnownTool(tool.Str) || (allowed != nil && !allowed(tool.Str)) {
			return nil, fmt.Errorf("%w: tool not allowed: %s", ErrInvalidStep, tool.Str)
		}

		args := map[string]any{}
		if a := step.Get("args"); a.Exists() && a.Type != gjson.Null {
			if !a.IsObject() {
				return nil, fmt.Errorf("%w: step %d args must be an object", ErrInvalidStep, i)
			}
			if key, ok := duplicateKey(a); ok {
				return nil, fmt.Errorf("%w: step %d args repeat key %q", ErrInvalidStep, i, key)
			}
			args = a.Value().(map[string]any)
		}

		plan.Steps = append(plan.Steps, types.Step{Tool: types.ToolName(tool.Str), Args: args})
	}

	return plan, nil
}

// duplicateKey returns the first key that appears twice in obj.
func duplicateKey(obj gjson.Result) (string, bool) {
	seen := make(map[string]struct{})
	var dup string
	found := false
	obj.ForEach(func(key, _ gjson.Result) bool {
		if _, ok := seen[key.Str]; ok {
			dup, found = key.Str, true
			return false
		}
		seen[key.Str] = struct{}{}
		return true
	})
	return dup, found
}
