package page

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"movekey/dispatch"
)

const formPage = `<!DOCTYPE html>
<html data-viewport="800,600">
<body data-scroll-height="3000">
  <input id="a" data-rect="10,10,200,20" style="visibility: hidden">
  <input id="b" tabindex="2" data-rect="10,40,200,20">
  <input id="c" tabindex="1" data-rect="10,70,200,20">
  <input id="box" type="checkbox" data-rect="10,100,20,20">
  <input id="off" disabled data-rect="10,130,200,20">
  <input id="ro" readonly data-rect="10,160,200,20">
  <input id="mail" type="EMAIL" data-rect="10,190,200,20">
  <textarea id="notes" data-rect="10,700,400,80"></textarea>
  <div id="plain" contenteditable="false" data-rect="10,800,400,80"></div>
  <div id="rich" contenteditable data-rect="10,900,400,80"></div>
  <div style="display: none"><input id="gone" data-rect="10,10,200,20"></div>
</body>
</html>`

func newDispatcher(t *testing.T, p *Static) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(dispatch.Config{Page: p, Keys: p})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParseCandidates(t *testing.T) {
	p, err := ParseString(formPage)
	if err != nil {
		t.Fatal(err)
	}
	cands, err := p.TextInputs(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"input#a", "input#b", "input#c", "input#mail", "textarea#notes", "div#rich", "input#gone"}
	if len(cands) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(cands))
	}
	for i, w := range want {
		if got := Describe(p.inputs[i]); got != w {
			t.Errorf("candidate %d: expected %s, got %s", i, w, got)
		}
	}

	if cands[0].Visibility != "hidden" {
		t.Errorf("expected a hidden, got %q", cands[0].Visibility)
	}
	if cands[1].TabIndex != 2 || cands[2].TabIndex != 1 {
		t.Errorf("unexpected tab indexes %d %d", cands[1].TabIndex, cands[2].TabIndex)
	}
	if len(cands[6].Rects) != 0 {
		t.Error("display:none subtree should have no rects")
	}

	vp, _ := p.Viewport(context.Background())
	if vp.Width != 800 || vp.Height != 600 {
		t.Errorf("unexpected viewport %+v", vp)
	}
}

func TestFocusKeyPicksTabOrder(t *testing.T) {
	p, err := ParseString(formPage)
	if err != nil {
		t.Fatal(err)
	}
	d := newDispatcher(t, p)
	d.SetListening(true)
	ctx := context.Background()

	res := p.Press(ctx, "i")
	if !res.Consumed || res.Action != dispatch.ActionFocusInput {
		t.Fatalf("expected focus action, got %+v", res)
	}
	sel, ok := p.Focused()
	if !ok || Describe(sel) != "input#c" {
		t.Fatalf("expected input#c focused, got %v", ok)
	}

	// Keys now go to the focused input.
	if res := p.Press(ctx, "j"); res.Consumed {
		t.Error("keys typed into a focused input must pass through")
	}
	if p.ScrollY() != 0 {
		t.Errorf("expected no scroll, got %d", p.ScrollY())
	}

	p.Blur()
	if res := p.Press(ctx, "j"); !res.Consumed || p.ScrollY() != 60 {
		t.Errorf("expected j to scroll after blur, got %+v at %d", res, p.ScrollY())
	}
}

func TestScrollClamps(t *testing.T) {
	p, err := ParseString(formPage)
	if err != nil {
		t.Fatal(err)
	}
	d := newDispatcher(t, p)
	d.SetListening(true)
	ctx := context.Background()

	p.Type(ctx, "k")
	if p.ScrollY() != 0 {
		t.Errorf("expected clamp at top, got %d", p.ScrollY())
	}
	p.Type(ctx, "G")
	if p.ScrollY() != 2400 {
		t.Errorf("expected bottom at 2400, got %d", p.ScrollY())
	}
	p.Type(ctx, "gg")
	if p.ScrollY() != 0 {
		t.Errorf("expected gg to return to top, got %d", p.ScrollY())
	}
}

func TestScrollRevealsInputs(t *testing.T) {
	src := `<html data-viewport="800,600"><body>
  <textarea id="low" data-rect="10,700,400,80"></textarea>
  <div style="height:2000px" data-rect="0,0,800,2000"></div>
</body></html>`
	p, err := ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := dispatch.FocusFirstInput(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Focused(); ok {
		t.Fatal("textarea below the fold must not be focused")
	}

	if h, _ := p.ScrollHeight(ctx); h != 2000 {
		t.Errorf("expected content height 2000, got %d", h)
	}
	p.ScrollTo(ctx, 300)
	if err := dispatch.FocusFirstInput(ctx, p); err != nil {
		t.Fatal(err)
	}
	if sel, ok := p.Focused(); !ok || Describe(sel) != "textarea#low" {
		t.Error("expected textarea focused after scrolling")
	}
}

func TestPressWithoutListener(t *testing.T) {
	p, err := ParseString(formPage)
	if err != nil {
		t.Fatal(err)
	}
	if res := p.Press(context.Background(), "j"); res.Consumed {
		t.Error("no listener means nothing is consumed")
	}
	if p.HasKeyListener() {
		t.Error("expected no listener")
	}
}

func TestTargetOf(t *testing.T) {
	p, err := ParseString(`<html><body>
  <div contenteditable="true"><span id="inner" class="x y">hi</span></div>
  <input id="q" type="search" disabled>
</body></html>`)
	if err != nil {
		t.Fatal(err)
	}

	inner := TargetOf(p.doc.Find("#inner"))
	if !inner.ContentEditable || inner.Tag != "span" || len(inner.Classes) != 2 {
		t.Errorf("unexpected target %+v", inner)
	}
	q := TargetOf(p.doc.Find("#q"))
	if !q.Disabled || q.Type != "search" || q.ID != "q" {
		t.Errorf("unexpected target %+v", q)
	}
}

func TestOpenAndBadAttributes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte(formPage), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := Open(filepath.Join(dir, "missing.html")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseString(`<html data-viewport="wide"></html>`); err == nil {
		t.Error("expected error for bad viewport")
	}
	if _, err := parseRects("1,2,3"); err == nil {
		t.Error("expected error for short rect")
	}
}
