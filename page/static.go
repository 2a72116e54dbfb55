// Package page provides a static, browser-free model of a web page that
// implements the dispatcher's page and key-source interfaces.
//
// Layout is not computed. Elements carry their geometry in a data-rect
// attribute, "left,top,width,height" in document coordinates, with several
// rects separated by ";". Visibility comes from inline style and is inherited.
// The viewport size is read from data-viewport="width,height" on the html
// element and the document height from data-scroll-height on body.
package page

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"movekey/dispatch"
)

// DefaultViewport is used when the document does not declare one.
var DefaultViewport = dispatch.Viewport{Width: 1024, Height: 768}

const candidateSelector = "input, textarea, [contenteditable]"

// Static is a parsed page with a scroll position, a focused element and an
// optional key listener.
type Static struct {
	doc          *goquery.Document
	viewport     dispatch.Viewport
	scrollHeight int

	mu       sync.Mutex
	scrollY  int
	inputs   []*goquery.Selection
	focused  int // index into inputs, -1 when nothing is focused
	listener dispatch.Handler
	history  []string
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	s := &Static{doc: doc, viewport: DefaultViewport, focused: -1}

	if v, ok := doc.Find("html").Attr("data-viewport"); ok {
		vp, err := parseViewport(v)
		if err != nil {
			return nil, err
		}
		s.viewport = vp
	}
	if v, ok := doc.Find("body").Attr("data-scroll-height"); ok {
		h, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid data-scroll-height %q: %w", v, err)
		}
		s.scrollHeight = h
	} else {
		s.scrollHeight = s.contentHeight()
	}

	doc.Find(candidateSelector).Each(func(_ int, sel *goquery.Selection) {
		if isTextInput(sel) {
			s.inputs = append(s.inputs, sel)
		}
	})
	return s, nil
}

// ParseString parses an HTML document held in a string.
func ParseString(src string) (*Static, error) {
	return Parse(strings.NewReader(src))
}

// Open parses the HTML file at path.
func Open(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func parseViewport(v string) (dispatch.Viewport, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return dispatch.Viewport{}, fmt.Errorf("invalid data-viewport %q", v)
	}
	w, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	h, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return dispatch.Viewport{}, fmt.Errorf("invalid data-viewport %q", v)
	}
	return dispatch.Viewport{Width: w, Height: h}, nil
}

// parseRects reads a data-rect value into document-space rects.
func parseRects(v string) ([]dispatch.Rect, error) {
	var rects []dispatch.Rect
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("invalid rect %q", part)
		}
		var n [4]float64
		for i, f := range fields {
			x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid rect %q: %w", part, err)
			}
			n[i] = x
		}
		rects = append(rects, dispatch.Rect{Left: n[0], Top: n[1], Right: n[0] + n[2], Bottom: n[1] + n[3]})
	}
	return rects, nil
}

func (s *Static) contentHeight() int {
	h := s.viewport.Height
	s.doc.Find("[data-rect]").Each(func(_ int, sel *goquery.Selection) {
		v, _ := sel.Attr("data-rect")
		rects, err := parseRects(v)
		if err != nil {
			return
		}
		for _, r := range rects {
			if r.Bottom > h {
				h = r.Bottom
			}
		}
	})
	return int(h)
}

func isTextInput(sel *goquery.Selection) bool {
	switch goquery.NodeName(sel) {
	case "input":
		if _, ok := sel.Attr("disabled"); ok {
			return false
		}
		if _, ok := sel.Attr("readonly"); ok {
			return false
		}
		typ, _ := sel.Attr("type")
		return dispatch.TextInputType(typ)
	case "textarea":
		return true
	}
	ce, _ := sel.Attr("contenteditable")
	ce = strings.ToLower(strings.TrimSpace(ce))
	return ce == "" || ce == "true"
}

// styleProperty returns the value of prop in the element's inline style.
func styleProperty(n *html.Node, prop string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		for _, decl := range strings.Split(a.Val, ";") {
			k, v, ok := strings.Cut(decl, ":")
			if ok && strings.EqualFold(strings.TrimSpace(k), prop) {
				return strings.ToLower(strings.TrimSpace(v)), true
			}
		}
	}
	return "", false
}

// visibility is the computed visibility of sel: the nearest inline
// declaration on it or an ancestor, else "visible".
func visibility(sel *goquery.Selection) string {
	for n := sel.Get(0); n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if v, ok := styleProperty(n, "visibility"); ok && v != "inherit" {
			return v
		}
	}
	return "visible"
}

// displayed reports whether neither sel nor an ancestor is display:none.
func displayed(sel *goquery.Selection) bool {
	for n := sel.Get(0); n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if v, ok := styleProperty(n, "display"); ok && v == "none" {
			return false
		}
	}
	return true
}

func tabIndex(sel *goquery.Selection) int {
	v, ok := sel.Attr("tabindex")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// clientRects returns sel's rects relative to the viewport at scroll y.
func clientRects(sel *goquery.Selection, y int) []dispatch.Rect {
	if !displayed(sel) {
		return nil
	}
	v, ok := sel.Attr("data-rect")
	if !ok {
		return nil
	}
	rects, err := parseRects(v)
	if err != nil {
		return nil
	}
	for i := range rects {
		rects[i].Top -= float64(y)
		rects[i].Bottom -= float64(y)
	}
	return rects
}

func (s *Static) maxScroll() int {
	m := s.scrollHeight - int(s.viewport.Height)
	if m < 0 {
		return 0
	}
	return m
}

func (s *Static) setScroll(y int) {
	if y < 0 {
		y = 0
	}
	if m := s.maxScroll(); y > m {
		y = m
	}
	s.scrollY = y
}

// ScrollBy implements dispatch.Page.
func (s *Static) ScrollBy(ctx context.Context, dy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setScroll(s.scrollY + dy)
	s.history = append(s.history, fmt.Sprintf("scrollBy %d", dy))
	return nil
}

// ScrollTo implements dispatch.Page.
func (s *Static) ScrollTo(ctx context.Context, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setScroll(y)
	s.history = append(s.history, fmt.Sprintf("scrollTo %d", y))
	return nil
}

// ScrollHeight implements dispatch.Page.
func (s *Static) ScrollHeight(ctx context.Context) (int, error) {
	return s.scrollHeight, nil
}

// Viewport implements dispatch.Page.
func (s *Static) Viewport(ctx context.Context) (dispatch.Viewport, error) {
	return s.viewport, nil
}

// TextInputs implements dispatch.Page.
func (s *Static) TextInputs(ctx context.Context) ([]dispatch.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cands := make([]dispatch.Candidate, 0, len(s.inputs))
	for i, sel := range s.inputs {
		cands = append(cands, dispatch.Candidate{
			Index:      i,
			TabIndex:   tabIndex(sel),
			Visibility: visibility(sel),
			Rects:      clientRects(sel, s.scrollY),
		})
	}
	return cands, nil
}

// Focus implements dispatch.Page.
func (s *Static) Focus(ctx context.Context, c dispatch.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Index < 0 || c.Index >= len(s.inputs) {
		return fmt.Errorf("no input at index %d", c.Index)
	}
	s.focused = c.Index
	s.history = append(s.history, "focus "+Describe(s.inputs[c.Index]))
	return nil
}

// ScrollY returns the current scroll offset.
func (s *Static) ScrollY() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollY
}

// Focused returns the focused element, if any.
func (s *Static) Focused() (*goquery.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focused < 0 {
		return nil, false
	}
	return s.inputs[s.focused], true
}

// Blur clears the focus.
func (s *Static) Blur() {
	s.mu.Lock()
	s.focused = -1
	s.mu.Unlock()
}

// History returns the page operations performed so far.
func (s *Static) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// AddKeyListener implements dispatch.KeySource.
func (s *Static) AddKeyListener(h dispatch.Handler) {
	s.mu.Lock()
	s.listener = h
	s.mu.Unlock()
}

// RemoveKeyListener implements dispatch.KeySource.
func (s *Static) RemoveKeyListener() {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

// HasKeyListener reports whether a key listener is installed.
func (s *Static) HasKeyListener() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Press delivers a keydown for key to the listener. The event targets the
// focused element, or the body when nothing is focused. Without a listener
// the key is not consumed.
func (s *Static) Press(ctx context.Context, key string) dispatch.Result {
	s.mu.Lock()
	h := s.listener
	var target *dispatch.Target
	if s.focused >= 0 {
		target = TargetOf(s.inputs[s.focused])
	} else {
		target = &dispatch.Target{Tag: "body"}
	}
	s.mu.Unlock()

	if h == nil {
		return dispatch.Result{}
	}
	return h(ctx, dispatch.KeyEvent{Key: key, Target: target})
}

// Type presses each character of keys in turn.
func (s *Static) Type(ctx context.Context, keys string) []dispatch.Result {
	var out []dispatch.Result
	for _, k := range keys {
		out = append(out, s.Press(ctx, string(k)))
	}
	return out
}

// TargetOf describes sel as a key event target.
func TargetOf(sel *goquery.Selection) *dispatch.Target {
	t := &dispatch.Target{Tag: goquery.NodeName(sel)}
	t.Type, _ = sel.Attr("type")
	t.ID, _ = sel.Attr("id")
	if class, ok := sel.Attr("class"); ok {
		t.Classes = strings.Fields(class)
	}
	_, t.Disabled = sel.Attr("disabled")
	for n := sel.Get(0); n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if v, ok := attr(n, "contenteditable"); ok {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" || v == "true" {
				t.ContentEditable = true
			}
			break
		}
	}
	return t
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Describe renders sel as a short selector-like label, e.g. input#q.big.
func Describe(sel *goquery.Selection) string {
	var b strings.Builder
	b.WriteString(goquery.NodeName(sel))
	if id, ok := sel.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	if class, ok := sel.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			b.WriteString("." + c)
		}
	}
	if name, ok := sel.Attr("name"); ok && name != "" {
		fmt.Fprintf(&b, "[name=%s]", name)
	}
	return b.String()
}
