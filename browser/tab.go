package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"movekey/dispatch"
)

// Tab is one Chrome tab.
type Tab struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	b      *Browser

	keys chan string
	navs chan string
	done chan struct{}

	mu         sync.Mutex
	handler    dispatch.Handler
	onNavigate func(url string)
	closeOnce  sync.Once
}

func newTab(id int, ctx context.Context, cancel context.CancelFunc, b *Browser) *Tab {
	return &Tab{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		b:      b,
		keys:   make(chan string, 64),
		navs:   make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// ID returns the tab's id.
func (t *Tab) ID() int {
	return t.id
}

// install adds the key binding and shim, and starts the event loop. It must
// run before the first navigation.
func (t *Tab) install() error {
	chromedp.ListenTarget(t.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name != bindingName {
				return
			}
			select {
			case t.keys <- e.Payload:
			default:
				t.b.log.Warnf("tab %d: dropping key, queue full", t.id)
			}
		case *page.EventFrameNavigated:
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			select {
			case t.navs <- e.Frame.URL:
			default:
				t.b.log.Warnf("tab %d: dropping navigation to %s, queue full", t.id, e.Frame.URL)
			}
		}
	})

	err := chromedp.Run(t.ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(shimScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("installing key shim in tab %d: %w", t.id, err)
	}

	go t.loop()
	return nil
}

// loop delivers navigations, in order, and key events one at a time, so a
// navigation callback never overlaps another or a key handler.
func (t *Tab) loop() {
	defer close(t.done)
	for {
		select {
		case <-t.ctx.Done():
			return
		case url := <-t.navs:
			t.mu.Lock()
			fn := t.onNavigate
			t.mu.Unlock()
			if fn != nil {
				fn(url)
			}
		case payload := <-t.keys:
			ev, err := decodeKey(payload)
			if err != nil {
				t.b.log.Warnf("tab %d: %v", t.id, err)
				continue
			}
			t.mu.Lock()
			h := t.handler
			t.mu.Unlock()
			if h != nil {
				res := h(t.ctx, ev)
				t.b.log.Debugf("tab %d: key %q -> %s", t.id, ev.Key, res.Action)
			}
		}
	}
}

// OnNavigate sets a callback run with the new URL each time the tab's main
// frame loads a document. Callbacks run on the tab's event loop, one at a
// time and in navigation order. Same-document navigations are not reported.
func (t *Tab) OnNavigate(fn func(url string)) {
	t.mu.Lock()
	t.onNavigate = fn
	t.mu.Unlock()
}

func (t *Tab) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.b.opts.Timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (t *Tab) eval(expr string, res interface{}) error {
	return t.run(chromedp.Evaluate(expr, res))
}

// Navigate loads url in the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := chromedp.Run(t.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating tab %d to %s: %w", t.id, url, err)
	}
	return nil
}

// URL returns the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var url string
	if err := t.run(chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// ScrollBy implements dispatch.Page.
func (t *Tab) ScrollBy(ctx context.Context, dy int) error {
	return t.eval(fmt.Sprintf("window.scrollBy({top: %d, left: 0})", dy), nil)
}

// ScrollTo implements dispatch.Page.
func (t *Tab) ScrollTo(ctx context.Context, y int) error {
	return t.eval(fmt.Sprintf("window.scrollTo({top: %d, left: 0})", y), nil)
}

// ScrollHeight implements dispatch.Page.
func (t *Tab) ScrollHeight(ctx context.Context) (int, error) {
	var h int
	err := t.eval("document.body ? document.body.scrollHeight : 0", &h)
	return h, err
}

// Viewport implements dispatch.Page.
func (t *Tab) Viewport(ctx context.Context) (dispatch.Viewport, error) {
	var vp dispatch.Viewport
	err := t.eval("({width: window.innerWidth, height: window.innerHeight})", &vp)
	return vp, err
}

// TextInputs implements dispatch.Page.
func (t *Tab) TextInputs(ctx context.Context) ([]dispatch.Candidate, error) {
	var cands []dispatch.Candidate
	err := t.eval("window.__movekey ? window.__movekey.inputs() : []", &cands)
	return cands, err
}

// Focus implements dispatch.Page.
func (t *Tab) Focus(ctx context.Context, c dispatch.Candidate) error {
	var ok bool
	if err := t.eval(fmt.Sprintf("!!(window.__movekey && window.__movekey.focus(%d))", c.Index), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("input %d is gone", c.Index)
	}
	return nil
}

// AddKeyListener implements dispatch.KeySource.
func (t *Tab) AddKeyListener(h dispatch.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
	if err := t.eval(enableScript(dispatch.Keys(), t.b.opts.EditorSelectors), nil); err != nil {
		t.b.log.Warnf("tab %d: enabling keys: %v", t.id, err)
	}
}

// RemoveKeyListener implements dispatch.KeySource.
func (t *Tab) RemoveKeyListener() {
	t.mu.Lock()
	t.handler = nil
	t.mu.Unlock()
	if err := t.eval(disableScript, nil); err != nil {
		t.b.log.Debugf("tab %d: disabling keys: %v", t.id, err)
	}
}

// Close closes the tab.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.b.forget(t.id)
	})
}
