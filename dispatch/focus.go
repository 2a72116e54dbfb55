package dispatch

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Page is everything the dispatcher reads from or does to the page.
type Page interface {
	ScrollBy(ctx context.Context, dy int) error
	ScrollTo(ctx context.Context, y int) error
	ScrollHeight(ctx context.Context) (int, error)
	Viewport(ctx context.Context) (Viewport, error)

	// TextInputs returns the page's text-input candidates in document
	// order: text-like inputs that are neither disabled nor readonly,
	// textareas, and content-editable elements.
	TextInputs(ctx context.Context) ([]Candidate, error)

	// Focus focuses c and selects its text.
	Focus(ctx context.Context, c Candidate) error
}

// Viewport is the visible window size in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is one client rectangle of an element, relative to the viewport.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Candidate is a focusable text input.
type Candidate struct {
	Index      int    `json:"index"` // position in document order; identifies the element to its Page
	TabIndex   int    `json:"tabIndex"`
	Visibility string `json:"visibility"` // computed style visibility
	Rects      []Rect `json:"rects"`
}

const (
	edgeMargin = 4 // a rect this close to the right/bottom edge is off-screen
	minSize    = 3 // narrower or shorter rects are invisible
)

// Visible reports whether c has at least one client rect inside the viewport
// and large enough to see, and is not hidden by style.
func (c Candidate) Visible(vp Viewport) bool {
	for _, r := range c.Rects {
		if math.Max(r.Top, 0) >= vp.Height-edgeMargin || math.Max(r.Left, 0) >= vp.Width-edgeMargin {
			continue
		}
		if r.Right-r.Left < minSize || r.Bottom-r.Top < minSize {
			continue
		}
		if c.Visibility != "visible" {
			continue
		}
		return true
	}
	return false
}

// SelectFocus picks the input "i" should focus: among visible candidates,
// positive tab indexes come first in ascending order, then everything else,
// ties broken by document order.
func SelectFocus(cands []Candidate, vp Viewport) (Candidate, bool) {
	var visible []Candidate
	for _, c := range cands {
		if c.Visible(vp) {
			visible = append(visible, c)
		}
	}
	if len(visible) == 0 {
		return Candidate{}, false
	}

	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		switch {
		case a.TabIndex > 0 && b.TabIndex > 0:
			if a.TabIndex != b.TabIndex {
				return a.TabIndex < b.TabIndex
			}
			return a.Index < b.Index
		case a.TabIndex > 0:
			return true
		case b.TabIndex > 0:
			return false
		}
		return a.Index < b.Index
	})
	return visible[0], true
}

// FocusFirstInput focuses the input chosen by SelectFocus. It does nothing
// when no candidate is visible.
func FocusFirstInput(ctx context.Context, p Page) error {
	cands, err := p.TextInputs(ctx)
	if err != nil {
		return fmt.Errorf("listing inputs: %w", err)
	}
	if len(cands) == 0 {
		return nil
	}
	vp, err := p.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("reading viewport: %w", err)
	}
	c, ok := SelectFocus(cands, vp)
	if !ok {
		return nil
	}
	return p.Focus(ctx, c)
}
