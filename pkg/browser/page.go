package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/quickbar/pkg/actions"
	"github.com/entrhq/quickbar/pkg/types"
)

// Page implements actions.Page on a Playwright page.
type Page struct {
	page playwright.Page
}

// NewPage wraps a Playwright page.
func NewPage(page playwright.Page) *Page {
	return &Page{page: page}
}

// URL returns the page's current URL.
func (p *Page) URL(_ context.Context) (string, error) {
	return p.page.URL(), nil
}

// Title returns the document title.
func (p *Page) Title(_ context.Context) (string, error) {
	return p.page.Title()
}

// QuerySelector returns the first element matching selector, or nil.
func (p *Page) QuerySelector(_ context.Context, selector string) (actions.Element, error) {
	handle, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if handle == nil {
		return nil, nil
	}
	return &element{handle: handle}, nil
}

// ElementFromPoint returns the topmost element at the viewport point.
func (p *Page) ElementFromPoint(_ context.Context, x, y float64) (actions.Element, error) {
	return p.elementHandle(elementFromPointScript, []float64{x, y})
}

// ActiveElement returns the focused element, or the body.
func (p *Page) ActiveElement(_ context.Context) (actions.Element, error) {
	return p.elementHandle(activeElementScript, nil)
}

func (p *Page) elementHandle(script string, arg any) (actions.Element, error) {
	var (
		handle playwright.JSHandle
		err    error
	)
	if arg != nil {
		handle, err = p.page.EvaluateHandle(script, arg)
	} else {
		handle, err = p.page.EvaluateHandle(script)
	}
	if err != nil {
		return nil, err
	}
	el := handle.AsElement()
	if el == nil {
		_ = handle.Dispose()
		return nil, nil
	}
	return &element{handle: el}, nil
}

// InsertText inserts text at the focused element's caret.
func (p *Page) InsertText(_ context.Context, text string) error {
	return p.page.Keyboard().InsertText(text)
}

// ScrollBy smooth-scrolls the window.
func (p *Page) ScrollBy(_ context.Context, dx, dy float64) error {
	_, err := p.page.Evaluate(scrollScript, []float64{dx, dy})
	return err
}

// InnerText returns the body's rendered text.
func (p *Page) InnerText(_ context.Context) (string, error) {
	return p.evalString(innerTextScript)
}

// Selection returns the selected text.
func (p *Page) Selection(_ context.Context) (string, error) {
	return p.evalString(selectionScript)
}

// Links returns every anchor with an href.
func (p *Page) Links(_ context.Context) ([]types.Link, error) {
	var links []types.Link
	if err := p.evalJSON(linksScript, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Inputs describes every form control.
func (p *Page) Inputs(_ context.Context) ([]types.InputDescriptor, error) {
	var inputs []types.InputDescriptor
	if err := p.evalJSON(inputsScript, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// PlaceCursor draws the marker at the viewport point, creating it first
// if needed.
func (p *Page) PlaceCursor(_ context.Context, x, y float64) error {
	_, err := p.page.Evaluate(placeCursorScript, []float64{x, y})
	return err
}

// RemoveCursor removes the marker.
func (p *Page) RemoveCursor(_ context.Context) error {
	_, err := p.page.Evaluate(removeCursorScript)
	return err
}

func (p *Page) evalString(script string) (string, error) {
	v, err := p.page.Evaluate(script)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *Page) evalJSON(script string, dst any) error {
	raw, err := p.evalString(script)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding page data: %w", err)
	}
	return nil
}

// element implements actions.Element on an element handle.
type element struct {
	handle playwright.ElementHandle
}

func (e *element) Attribute(_ context.Context, name string) (string, error) {
	return e.handle.GetAttribute(name)
}

func (e *element) TagName(_ context.Context) (string, error) {
	v, err := e.handle.Evaluate(tagNameScript)
	if err != nil {
		return "", err
	}
	tag, _ := v.(string)
	return tag, nil
}

func (e *element) IsContentEditable(_ context.Context) (bool, error) {
	v, err := e.handle.Evaluate(contentEditableScript)
	if err != nil {
		return false, err
	}
	editable, _ := v.(bool)
	return editable, nil
}

func (e *element) BoundingBox(_ context.Context) (*actions.Rect, error) {
	box, err := e.handle.BoundingBox()
	if err != nil || box == nil {
		return nil, err
	}
	return &actions.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (e *element) Click(_ context.Context) error {
	_, err := e.handle.Evaluate(clickScript)
	return err
}

func (e *element) Focus(_ context.Context) error {
	return e.handle.Focus()
}

func (e *element) SetValue(_ context.Context, value string) error {
	_, err := e.handle.Evaluate(setValueScript, value)
	return err
}

func (e *element) DispatchKey(_ context.Context, key string) error {
	_, err := e.handle.Evaluate(dispatchKeyScript, key)
	return err
}
