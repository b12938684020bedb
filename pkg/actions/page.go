// Package actions is the page-side primitive engine: it carries out click,
// type, press_key, scroll and summarize_page against one page, enforces the
// sensitive-field refusal, collects bounded context snapshots and drives
// the on-page cursor marker.
package actions

import (
	"context"

	"github.com/entrhq/quickbar/pkg/types"
)

// Rect is an element's box in viewport coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Element is a handle to one DOM element.
type Element interface {
	// Attribute returns the attribute value, or "" when it is absent.
	Attribute(ctx context.Context, name string) (string, error)

	// TagName returns the upper-case tag name.
	TagName(ctx context.Context) (string, error)

	IsContentEditable(ctx context.Context) (bool, error)

	// BoundingBox returns nil when the element is not rendered.
	BoundingBox(ctx context.Context) (*Rect, error)

	Click(ctx context.Context) error
	Focus(ctx context.Context) error

	// SetValue assigns the form value and fires bubbling input and change
	// events.
	SetValue(ctx context.Context, value string) error

	// DispatchKey fires a keydown and keyup pair for key.
	DispatchKey(ctx context.Context, key string) error
}

// Page is the document the engine acts on.
type Page interface {
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// QuerySelector returns nil, nil when nothing matches.
	QuerySelector(ctx context.Context, selector string) (Element, error)

	// ElementFromPoint returns nil, nil when nothing is at the point.
	ElementFromPoint(ctx context.Context, x, y float64) (Element, error)

	// ActiveElement returns the focused element, or the body.
	ActiveElement(ctx context.Context) (Element, error)

	// InsertText inserts text at the caret of the focused editable.
	InsertText(ctx context.Context, text string) error

	// ScrollBy smooth-scrolls the window.
	ScrollBy(ctx context.Context, dx, dy float64) error

	// InnerText returns the body's rendered text.
	InnerText(ctx context.Context) (string, error)

	// Selection returns the current text selection.
	Selection(ctx context.Context) (string, error)

	// Links returns the page's anchors with an href, in document order.
	Links(ctx context.Context) ([]types.Link, error)

	// Inputs returns the page's input, textarea and select controls.
	Inputs(ctx context.Context) ([]types.InputDescriptor, error)

	// PlaceCursor creates the cursor marker if needed and pins it at the
	// given viewport point.
	PlaceCursor(ctx context.Context, x, y float64) error

	// RemoveCursor deletes the cursor marker if present.
	RemoveCursor(ctx context.Context) error
}
