package actions

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/types"
)

// Content limits, in characters.
const (
	MaxSummaryChars   = 12000
	MaxVisibleChars   = 12000
	MaxSelectionChars = 2000
	MaxLinkTextChars  = 200
	MaxLinks          = 30
	MaxInputs         = 30
)

const (
	defaultScrollAmount = 300

	// cursorCorner is where the marker rests when it is not on a target.
	cursorCorner = 16

	// cursorMargin keeps the marker on screen for targets near the edge.
	cursorMargin = 8
)

var digitsOnly = regexp.MustCompile(`^\d{4,8}$`)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("actions")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize actions logger, using stderr fallback: %v", err)
	}
}

// Result is what a tool returns on success.
type Result map[string]any

func okResult() Result {
	return Result{"ok": true}
}

// Engine runs primitive tools against one page.
type Engine struct {
	page Page
}

// NewEngine creates an engine bound to page.
func NewEngine(page Page) *Engine {
	return &Engine{page: page}
}

// Execute runs one page-side tool.
func (e *Engine) Execute(ctx context.Context, tool types.ToolName, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}

	switch tool {
	case types.ToolClick:
		return e.click(ctx, args)
	case types.ToolType:
		return e.typeText(ctx, args)
	case types.ToolPressKey:
		return e.pressKey(ctx, args)
	case types.ToolScroll:
		return e.scroll(ctx, args)
	case types.ToolSummarizePage:
		return e.summarize(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, tool)
	}
}

// ShowCursor puts the marker in its resting corner.
func (e *Engine) ShowCursor(ctx context.Context) error {
	return e.page.PlaceCursor(ctx, cursorCorner, cursorCorner)
}

// HideCursor removes the marker.
func (e *Engine) HideCursor(ctx context.Context) error {
	return e.page.RemoveCursor(ctx)
}

// resolveTarget looks up the element by selector, falling back to the
// x/y point. It returns nil when neither is given or nothing matches.
func (e *Engine) resolveTarget(ctx context.Context, args map[string]any) (Element, error) {
	if selector := stringArg(args, "selector"); selector != "" {
		return e.page.QuerySelector(ctx, selector)
	}
	x, okX := numberArg(args, "x")
	y, okY := numberArg(args, "y")
	if okX && okY {
		return e.page.ElementFromPoint(ctx, x, y)
	}
	return nil, nil
}

// moveCursorTo centres the marker on el. Failures only affect the marker
// and are logged.
func (e *Engine) moveCursorTo(ctx context.Context, el Element) {
	box, err := el.BoundingBox(ctx)
	if err != nil || box == nil {
		return
	}
	x, y := box.Center()
	if err := e.page.PlaceCursor(ctx, math.Max(cursorMargin, x), math.Max(cursorMargin, y)); err != nil {
		log.Debugf("Cursor move failed: %v", err)
	}
}

func (e *Engine) click(ctx context.Context, args map[string]any) (Result, error) {
	target, err := e.resolveTarget(ctx, args)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("click: %w", ErrTargetNotFound)
	}

	e.moveCursorTo(ctx, target)
	if err := target.Click(ctx); err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}
	return okResult(), nil
}

func (e *Engine) typeText(ctx context.Context, args map[string]any) (Result, error) {
	target, err := e.resolveTarget(ctx, args)
	if err != nil {
		return nil, err
	}
	text := stringArg(args, "text")
	if target == nil {
		return nil, fmt.Errorf("type: %w", ErrTargetNotFound)
	}

	hints, err := readHints(ctx, target)
	if err != nil {
		return nil, err
	}
	if IsSensitiveField(hints, text) {
		return nil, ErrSensitiveField
	}

	e.moveCursorTo(ctx, target)

	editable, err := target.IsContentEditable(ctx)
	if err != nil {
		return nil, err
	}
	if editable {
		if err := target.Focus(ctx); err != nil {
			return nil, err
		}
		if err := e.page.InsertText(ctx, text); err != nil {
			return nil, err
		}
		return okResult(), nil
	}

	tag, err := target.TagName(ctx)
	if err != nil {
		return nil, err
	}
	if tag != "INPUT" && tag != "TEXTAREA" {
		return nil, fmt.Errorf("type into <%s>: %w", strings.ToLower(tag), ErrNotEditable)
	}
	if err := target.Focus(ctx); err != nil {
		return nil, err
	}
	if err := target.SetValue(ctx, text); err != nil {
		return nil, err
	}
	return okResult(), nil
}

func (e *Engine) pressKey(ctx context.Context, args map[string]any) (Result, error) {
	key := stringArg(args, "key")
	if key == "" {
		return nil, ErrMissingKey
	}

	target, err := e.page.ActiveElement(ctx)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("press_key: %w", ErrTargetNotFound)
	}

	e.moveCursorTo(ctx, target)
	if err := target.DispatchKey(ctx, key); err != nil {
		return nil, err
	}
	return okResult(), nil
}

// ScrollOffset converts a direction and amount to a window offset.
// Unknown directions scroll down.
func ScrollOffset(direction string, amount float64) (dx, dy float64) {
	switch direction {
	case "up":
		return 0, -amount
	case "left":
		return -amount, 0
	case "right":
		return amount, 0
	default:
		return 0, amount
	}
}

func (e *Engine) scroll(ctx context.Context, args map[string]any) (Result, error) {
	amount, ok := numberArg(args, "amount")
	if !ok {
		amount = defaultScrollAmount
	}
	dx, dy := ScrollOffset(stringArg(args, "direction"), amount)

	if err := e.page.ScrollBy(ctx, dx, dy); err != nil {
		return nil, err
	}
	if err := e.page.PlaceCursor(ctx, cursorCorner, cursorCorner); err != nil {
		log.Debugf("Cursor reset failed: %v", err)
	}
	return okResult(), nil
}

func (e *Engine) summarize(ctx context.Context) (Result, error) {
	text, err := e.page.InnerText(ctx)
	if err != nil {
		return nil, err
	}
	return Result{"summary": Truncate(strings.TrimSpace(text), MaxSummaryChars)}, nil
}

// CollectContext snapshots the page. Each collection is capped on its own
// so the snapshot stays bounded however large the page is.
func (e *Engine) CollectContext(ctx context.Context) (*types.PageContext, error) {
	url, err := e.page.URL(ctx)
	if err != nil {
		return nil, err
	}
	title, err := e.page.Title(ctx)
	if err != nil {
		return nil, err
	}
	selection, err := e.page.Selection(ctx)
	if err != nil {
		return nil, err
	}
	body, err := e.page.InnerText(ctx)
	if err != nil {
		return nil, err
	}
	rawLinks, err := e.page.Links(ctx)
	if err != nil {
		return nil, err
	}
	rawInputs, err := e.page.Inputs(ctx)
	if err != nil {
		return nil, err
	}

	links := make([]types.Link, 0, MaxLinks)
	for _, l := range rawLinks {
		if len(links) == MaxLinks {
			break
		}
		text := Truncate(strings.TrimSpace(l.Text), MaxLinkTextChars)
		if text == "" && l.Href == "" {
			continue
		}
		links = append(links, types.Link{Text: text, Href: l.Href})
	}

	inputs := rawInputs
	if len(inputs) > MaxInputs {
		inputs = inputs[:MaxInputs]
	}

	return &types.PageContext{
		URL:          url,
		Title:        title,
		SelectedText: Truncate(strings.TrimSpace(selection), MaxSelectionChars),
		VisibleText:  Truncate(strings.TrimSpace(body), MaxVisibleChars),
		Links:        links,
		Inputs:       append([]types.InputDescriptor{}, inputs...),
	}, nil
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
