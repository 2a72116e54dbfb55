package dispatch

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Target describes the element a key event is aimed at: the event target,
// or the active element when there is none.
type Target struct {
	Tag             string   `json:"tag"` // lower-case local name
	Type            string   `json:"type,omitempty"`
	ID              string   `json:"id,omitempty"`
	Classes         []string `json:"classes,omitempty"`
	Disabled        bool     `json:"disabled,omitempty"`
	ContentEditable bool     `json:"contentEditable,omitempty"` // isContentEditable
}

// nonTextInputs are input types that take no typed text.
var nonTextInputs = map[string]bool{
	"button":   true,
	"checkbox": true,
	"file":     true,
	"hidden":   true,
	"image":    true,
	"radio":    true,
	"reset":    true,
	"submit":   true,
}

// TextInputType reports whether an input of type typ takes typed text. The
// empty type is a text input.
func TextInputType(typ string) bool {
	return !nonTextInputs[strings.ToLower(strings.TrimSpace(typ))]
}

func compileSelectors(sels []string) (cascadia.SelectorGroup, error) {
	var parts []string
	for _, s := range sels {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	g, err := cascadia.ParseGroup(strings.Join(parts, ","))
	if err != nil {
		return nil, fmt.Errorf("parsing editor selectors: %w", err)
	}
	return g, nil
}

// Editable reports whether keys aimed at t belong to the page: text fields,
// selects, content-editable elements and code-editor containers, unless
// disabled.
func (d *Dispatcher) Editable(t *Target) bool {
	if t == nil || t.Disabled {
		return false
	}
	tag := strings.ToLower(t.Tag)
	switch {
	case tag == "textarea", tag == "select", t.ContentEditable:
		return true
	case tag == "input":
		return TextInputType(t.Type)
	}
	return d.editors != nil && d.editors.Match(t.node())
}

// node builds a detached element node so editor selectors can be matched
// against the target.
func (t *Target) node() *html.Node {
	tag := strings.ToLower(t.Tag)
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	if t.ID != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: t.ID})
	}
	if len(t.Classes) > 0 {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: strings.Join(t.Classes, " ")})
	}
	if t.Type != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "type", Val: t.Type})
	}
	return n
}
