// Package browser hosts movekey in Chrome through the DevTools protocol.
// Each Tab is a dispatch.Page and dispatch.KeySource; the Browser performs
// tab navigation for the relay.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"movekey/logging"
)

// ErrNoTab is returned for an unknown or closed tab id.
var ErrNoTab = errors.New("no such tab")

// Options configures Chrome.
type Options struct {
	ChromePath      string // Chrome binary; empty means auto-detect
	Headless        bool
	UserAgent       string
	UserDataDir     string        // empty means a movekey profile in the user cache dir
	Timeout         time.Duration // per DevTools call
	EditorSelectors []string      // passed to the in-page listener
}

// DefaultOptions returns a visible browser with a persistent profile.
func DefaultOptions() Options {
	return Options{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:   10 * time.Second,
	}
}

// userDataDir returns a persistent directory for Chrome user data.
func userDataDir() string {
	dir, _ := os.UserCacheDir()
	return filepath.Join(dir, "movekey-chrome-profile")
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	dataDir := o.UserDataDir
	if dataDir == "" {
		dataDir = userDataDir()
	}
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-service-autorun", true),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),
		chromedp.WindowSize(1280, 900),
		chromedp.UserDataDir(dataDir),
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	if o.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if o.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(o.ChromePath))
	}
	return opts
}

// Browser is one Chrome process and its tabs.
type Browser struct {
	opts Options
	log  *logging.Logger

	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	tabs   map[int]*Tab
	nextID int
	onOpen func(*Tab)
}

// New starts Chrome.
func New(ctx context.Context, opts Options, log *logging.Logger) (*Browser, error) {
	if log == nil {
		log = logging.Discard()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Debugf))
	if err := chromedp.Run(rootCtx); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}
	log.Infof("chrome started (headless=%v)", opts.Headless)

	return &Browser{
		opts:        opts,
		log:         log,
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		tabs:        make(map[int]*Tab),
		nextID:      1,
	}, nil
}

// OnOpen sets a callback run for every tab the browser opens, including
// duplicates, before the tab navigates.
func (b *Browser) OnOpen(fn func(*Tab)) {
	b.mu.Lock()
	b.onOpen = fn
	b.mu.Unlock()
}

// Open creates a tab and navigates it to url.
func (b *Browser) Open(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.rootCtx)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()

	t := newTab(id, tabCtx, cancel, b)
	if err := t.install(); err != nil {
		cancel()
		return nil, err
	}

	b.mu.Lock()
	b.tabs[id] = t
	onOpen := b.onOpen
	b.mu.Unlock()

	if onOpen != nil {
		onOpen(t)
	}
	if err := t.Navigate(ctx, url); err != nil {
		return t, err
	}
	b.log.Debugf("opened tab %d at %s", id, url)
	return t, nil
}

// Tab returns the open tab with id.
func (b *Browser) Tab(id int) (*Tab, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	return t, ok && t.ctx.Err() == nil
}

// Tabs returns the ids of open tabs in ascending order.
func (b *Browser) Tabs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.tabs))
	for id, t := range b.tabs {
		if t.ctx.Err() == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (b *Browser) forget(id int) {
	b.mu.Lock()
	delete(b.tabs, id)
	b.mu.Unlock()
}

// Exists implements relay.Tabs.
func (b *Browser) Exists(tabID int) bool {
	_, ok := b.Tab(tabID)
	return ok
}

func (b *Browser) run(ctx context.Context, tabID int, actions ...chromedp.Action) error {
	t, ok := b.Tab(tabID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoTab, tabID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.run(actions...)
}

// GoBack implements relay.Tabs.
func (b *Browser) GoBack(ctx context.Context, tabID int) error {
	return b.run(ctx, tabID, chromedp.NavigateBack())
}

// GoForward implements relay.Tabs.
func (b *Browser) GoForward(ctx context.Context, tabID int) error {
	return b.run(ctx, tabID, chromedp.NavigateForward())
}

// Duplicate implements relay.Tabs by opening the tab's current URL in a new
// tab.
func (b *Browser) Duplicate(ctx context.Context, tabID int) error {
	var url string
	if err := b.run(ctx, tabID, chromedp.Location(&url)); err != nil {
		return err
	}
	_, err := b.Open(ctx, url)
	return err
}

// Done is closed when Chrome exits.
func (b *Browser) Done() <-chan struct{} {
	return b.rootCtx.Done()
}

// Close closes every tab and stops Chrome.
func (b *Browser) Close() {
	b.mu.Lock()
	tabs := make([]*Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		tabs = append(tabs, t)
	}
	b.mu.Unlock()

	for _, t := range tabs {
		t.Close()
	}
	b.rootCancel()
	b.allocCancel()
}
