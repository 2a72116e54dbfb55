package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"movekey/browser"
	"movekey/content"
	"movekey/dispatch"
	"movekey/editor"
	"movekey/logging"
	"movekey/relay"
	"movekey/rules"
)

var (
	runHeadless bool
	runNoInput  bool
)

var runCmd = &cobra.Command{
	Use:   "run [url]...",
	Short: "Open Chrome with the navigation keys active",
	Long: `Starts Chrome and opens each URL in its own tab. Every document a tab loads
gets the navigation keys unless a rule in the disable list matches its URL.

Commands on stdin:

  tabs          list tabs with their URL and state
  open <url>    open a new tab
  edit <n>      edit the rules for tab n; saving applies them to the tab
  quit          close Chrome`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		opts := browser.DefaultOptions()
		opts.ChromePath = a.cfg.Browser.ChromePath
		opts.Headless = a.cfg.Browser.Headless || runHeadless
		if a.cfg.Browser.UserAgent != "" {
			opts.UserAgent = a.cfg.Browser.UserAgent
		}
		opts.Timeout = a.cfg.BrowserTimeout()
		opts.EditorSelectors = a.cfg.Keys.EditorSelectors

		b, err := browser.New(ctx, opts, a.log.With("browser"))
		if err != nil {
			return err
		}
		defer b.Close()

		h := newHost(ctx, b, store, dispatchOptions(a.cfg), a.cfg.PollInterval(), a.log)
		defer h.close()
		b.OnOpen(h.attach)

		if len(args) == 0 {
			args = []string{"about:blank"}
		}
		for _, url := range args {
			if _, err := b.Open(ctx, url); err != nil {
				a.log.Warnf("%v", err)
			}
		}

		if runNoInput {
			select {
			case <-ctx.Done():
			case <-b.Done():
			}
			return nil
		}

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()
		return h.loop(ctx, lines, cmd.OutOrStdout())
	},
}

// pageTab is what the host drives in a tab.
type pageTab interface {
	dispatch.Page
	dispatch.KeySource
	ID() int
}

// tabBrowser is the browser as the host sees it.
type tabBrowser interface {
	relay.Tabs
	Tabs() []int
	Done() <-chan struct{}
	Open(ctx context.Context, url string) (*browser.Tab, error)
}

// host keeps one content script per tab, recreated on every document load.
type host struct {
	ctx   context.Context
	b     tabBrowser
	hub   *relay.Hub
	store *rules.Store
	opts  dispatch.Options
	poll  time.Duration
	log   *logging.Logger

	mu      sync.Mutex
	scripts map[int]*tabScript
	loading map[int]*sync.Mutex
}

type tabScript struct {
	s    *content.Script
	url  string
	stop context.CancelFunc
}

func newHost(ctx context.Context, b tabBrowser, store *rules.Store, opts dispatch.Options, poll time.Duration, log *logging.Logger) *host {
	return &host{
		ctx:     ctx,
		b:       b,
		hub:     relay.NewHub(b, log.With("relay")),
		store:   store,
		opts:    opts,
		poll:    poll,
		log:     log,
		scripts: make(map[int]*tabScript),
		loading: make(map[int]*sync.Mutex),
	}
}

func (h *host) attach(t *browser.Tab) {
	t.OnNavigate(func(url string) { h.load(t, url) })
}

// tabLock returns the lock serializing script replacement in tab id.
func (h *host) tabLock(id int) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.loading[id]
	if !ok {
		l = new(sync.Mutex)
		h.loading[id] = l
	}
	return l
}

// load replaces the tab's script with a fresh one for url. Loads for one tab
// run one at a time, so the old script is closed before the new one starts
// and the last load wins.
func (h *host) load(t pageTab, url string) {
	id := t.ID()
	l := h.tabLock(id)
	l.Lock()
	defer l.Unlock()

	h.drop(id)

	s, err := content.New(content.Config{
		Context: content.PageContext{TabID: id, URL: url},
		Page:    t,
		Keys:    t,
		Options: h.opts,
		Store:   h.store,
		Hub:     h.hub,
		Logger:  h.log.With("content"),
	})
	if err != nil {
		h.log.Errorf("tab %d: %v", id, err)
		return
	}
	s.Start(h.ctx)

	sctx, stop := context.WithCancel(h.ctx)
	go func() {
		if err := s.Follow(sctx, h.poll); err != nil {
			h.log.Warnf("tab %d: %v", id, err)
		}
	}()

	h.mu.Lock()
	h.scripts[id] = &tabScript{s: s, url: url, stop: stop}
	h.mu.Unlock()
}

func (h *host) drop(id int) {
	h.mu.Lock()
	ts := h.scripts[id]
	delete(h.scripts, id)
	h.mu.Unlock()
	if ts != nil {
		ts.stop()
		ts.s.Close()
	}
}

func (h *host) script(id int) (*tabScript, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts, ok := h.scripts[id]
	return ts, ok
}

func (h *host) close() {
	h.mu.Lock()
	ids := make([]int, 0, len(h.scripts))
	for id := range h.scripts {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		l := h.tabLock(id)
		l.Lock()
		h.drop(id)
		l.Unlock()
	}
}

func (h *host) loop(ctx context.Context, lines <-chan string, out io.Writer) error {
	for {
		fmt.Fprint(out, "movekey> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-h.b.Done():
			fmt.Fprintln(out, "\nchrome exited")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		name, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch name {
		case "":
		case "tabs":
			h.printTabs(out)
		case "open":
			if rest == "" {
				fmt.Fprintln(out, "usage: open <url>")
				continue
			}
			if _, err := h.b.Open(ctx, rest); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		case "edit":
			if err := h.edit(ctx, rest, lines, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		case "quit", "exit", "q":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", name)
		}
	}
}

func (h *host) printTabs(out io.Writer) {
	for _, id := range h.b.Tabs() {
		ts, ok := h.script(id)
		if !ok {
			fmt.Fprintf(out, "  %d (loading)\n", id)
			continue
		}
		state := "active"
		if ts.s.Verdict().Suppress {
			state = "disabled"
		}
		fmt.Fprintf(out, "  %d %s %s\n", id, state, ts.url)
	}
}

// edit runs the rule editor for a tab, reading its commands from the same
// lines as the host loop.
func (h *host) edit(ctx context.Context, arg string, lines <-chan string, out io.Writer) error {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("expected a tab number, got %q", arg)
	}
	ts, ok := h.script(id)
	if !ok {
		return fmt.Errorf("no page loaded in tab %d", id)
	}
	e, err := editor.Open(ctx, h.store, h.hub, content.PageContext{TabID: id, URL: ts.url}, h.log.With("editor"))
	if err != nil {
		return err
	}
	return editLoop(ctx, &chanReader{ctx: ctx, lines: lines}, out, e)
}

// chanReader adapts the host's line channel to an io.Reader for editLoop.
type chanReader struct {
	ctx   context.Context
	lines <-chan string
	buf   []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		var l string
		var ok bool
		select {
		case <-r.ctx.Done():
			return 0, io.EOF
		case l, ok = <-r.lines:
		}
		if !ok {
			return 0, io.EOF
		}
		r.buf = append([]byte(l), '\n')
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run Chrome without a window")
	runCmd.Flags().BoolVar(&runNoInput, "no-input", false, "do not read commands from stdin")
	rootCmd.AddCommand(runCmd)
}
