package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"movekey/dispatch"
)

func TestDecodeKey(t *testing.T) {
	ev, err := decodeKey(`{"key":"g","alt":false,"ctrl":true,"meta":false,"composing":false,
		"target":{"tag":"div","id":"main","classes":["CodeMirror-scroll"],"contentEditable":false}}`)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Key != "g" || !ev.Ctrl || ev.Target == nil || ev.Target.ID != "main" || ev.Target.Classes[0] != "CodeMirror-scroll" {
		t.Errorf("unexpected event %+v target %+v", ev, ev.Target)
	}

	ev, err = decodeKey(`{"key":"j","target":null}`)
	if err != nil || ev.Target != nil {
		t.Errorf("expected nil target, got %+v err=%v", ev.Target, err)
	}

	if _, err := decodeKey(`not json`); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnableScript(t *testing.T) {
	got := enableScript([]string{"j", "k"}, []string{"div.a", `div[data-x="y"]`})
	want := `window.__movekey && window.__movekey.enable(["j","k"], "div.a,div[data-x=\"y\"]")`
	if got != want {
		t.Errorf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestShimReferencesBinding(t *testing.T) {
	if !strings.Contains(shimScript, "window."+bindingName+"(") {
		t.Error("shim must report keys through the binding")
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(Options{}))
	full := len(allocatorOptions(Options{ChromePath: "/bin/chrome", Headless: true, UserAgent: "ua"}))
	if full != base+3 {
		t.Errorf("expected 3 extra options, got %d", full-base)
	}
}

func TestCandidateJSON(t *testing.T) {
	// The shim's inputs() result must decode into dispatch candidates.
	raw := `[{"index":0,"tabIndex":2,"visibility":"visible","rects":[{"left":1,"top":2,"right":30,"bottom":40}]}]`
	var cands []dispatch.Candidate
	if err := json.Unmarshal([]byte(raw), &cands); err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].TabIndex != 2 || cands[0].Rects[0].Bottom != 40 {
		t.Errorf("unexpected candidates %+v", cands)
	}
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestTabKeysScrollPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("chrome not found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body style="height:5000px"><p>tall</p></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	opts := DefaultOptions()
	opts.ChromePath = chrome
	opts.Headless = true
	opts.UserDataDir = t.TempDir()
	b, err := New(ctx, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	tab, err := b.Open(ctx, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	d, err := dispatch.New(dispatch.Config{Page: tab, Keys: tab})
	if err != nil {
		t.Fatal(err)
	}
	d.SetListening(true)

	if err := tab.run(chromedp.KeyEvent("d")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var y float64
		if err := tab.eval("window.scrollY", &y); err != nil {
			t.Fatal(err)
		}
		if y >= 500 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected page scrolled by d, scrollY=%v", y)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !b.Exists(tab.ID()) {
		t.Error("tab should exist")
	}
	tab.Close()
	if b.Exists(tab.ID()) {
		t.Error("closed tab should be gone")
	}
}
