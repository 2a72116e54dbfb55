// Package dispatch implements movekey's key dispatcher: it classifies each
// keydown as ignorable or actionable and runs the matching command against
// the page. Every page read and write goes through the Page interface so the
// dispatcher runs the same against Chrome or a static page model.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"

	"movekey/logging"
	"movekey/relay"
)

// KeyEvent is a keydown as seen by the page.
type KeyEvent struct {
	Key       string // the key value, e.g. "j" or "G"
	Alt       bool
	Ctrl      bool
	Meta      bool
	Composing bool // an IME composition is in progress
	Target    *Target
}

// Action names what a handled key did.
type Action string

const (
	ActionNone         Action = ""
	ActionScrollDown   Action = "scroll-down"
	ActionScrollUp     Action = "scroll-up"
	ActionPageDown     Action = "page-down"
	ActionPageUp       Action = "page-up"
	ActionTop          Action = "top"
	ActionBottom       Action = "bottom"
	ActionBack         Action = "back"
	ActionForward      Action = "forward"
	ActionDuplicate    Action = "duplicate"
	ActionFocusInput   Action = "focus-input"
	ActionChordPending Action = "chord-pending"
)

// Result reports what HandleKey did. When Consumed is true the host must
// stop the event's propagation and prevent the browser default.
type Result struct {
	Consumed bool
	Action   Action
}

// Handler receives key events from a KeySource.
type Handler func(ctx context.Context, ev KeyEvent) Result

// KeySource installs and removes the page's keydown observer.
type KeySource interface {
	AddKeyListener(h Handler)
	RemoveKeyListener()
}

// Messenger sends requests to the relay on behalf of this page's tab.
type Messenger interface {
	Send(ctx context.Context, msg relay.Message) error
}

// Clock supplies the current time for chord expiry.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Options tunes the dispatcher. The command keys themselves are fixed.
type Options struct {
	SlightScroll    int           // pixels for j/k
	FullScroll      int           // pixels for d/u
	ChordTimeout    time.Duration // how long a key stays available as a chord prefix
	EditorSelectors []string      // code-editor containers treated as editable
}

// DefaultOptions returns the stock scroll distances and chord window.
func DefaultOptions() Options {
	return Options{
		SlightScroll:    60,
		FullScroll:      500,
		ChordTimeout:    2000 * time.Millisecond,
		EditorSelectors: []string{"div.CodeMirror-scroll", "div.ace_content"},
	}
}

// Config wires a Dispatcher to its page environment.
type Config struct {
	Page      Page
	Messenger Messenger
	Keys      KeySource
	Clock     Clock
	Logger    *logging.Logger
	Options   Options
}

// Dispatcher owns the chord state and the listening flag for one page.
type Dispatcher struct {
	page    Page
	msg     Messenger
	keys    KeySource
	clock   Clock
	log     *logging.Logger
	opts    Options
	editors cascadia.SelectorGroup

	mu        sync.Mutex
	chord     Chord
	listening bool
}

// New creates a Dispatcher. It is not listening until SetListening(true).
func New(cfg Config) (*Dispatcher, error) {
	def := DefaultOptions()
	opts := cfg.Options
	if opts.SlightScroll == 0 {
		opts.SlightScroll = def.SlightScroll
	}
	if opts.FullScroll == 0 {
		opts.FullScroll = def.FullScroll
	}
	if opts.ChordTimeout == 0 {
		opts.ChordTimeout = def.ChordTimeout
	}
	if opts.EditorSelectors == nil {
		opts.EditorSelectors = def.EditorSelectors
	}

	editors, err := compileSelectors(opts.EditorSelectors)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		page:    cfg.Page,
		msg:     cfg.Messenger,
		keys:    cfg.Keys,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		opts:    opts,
		editors: editors,
	}
	if d.clock == nil {
		d.clock = SystemClock{}
	}
	if d.log == nil {
		d.log = logging.Discard()
	}
	return d, nil
}

// commands is the fixed command table.
var commands = map[string]Action{
	"j": ActionScrollDown,
	"k": ActionScrollUp,
	"d": ActionPageDown,
	"u": ActionPageUp,
	"g": ActionTop,
	"G": ActionBottom,
	"H": ActionBack,
	"L": ActionForward,
	"y": ActionDuplicate,
	"i": ActionFocusInput,
}

// chorded commands only fire when the same key was pressed last.
var chorded = map[string]bool{"g": true, "y": true}

// Keys returns the command keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(commands))
	for k := range commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ignore reports whether ev must pass through untouched: it targets an
// editable element, or a modifier or IME composition is active.
func (d *Dispatcher) Ignore(ev KeyEvent) bool {
	return ev.Alt || ev.Ctrl || ev.Meta || ev.Composing || d.Editable(ev.Target)
}

// HandleKey interprets one keydown.
func (d *Dispatcher) HandleKey(ctx context.Context, ev KeyEvent) Result {
	if d.Ignore(ev) {
		return Result{}
	}
	action, ok := commands[ev.Key]
	if !ok {
		return Result{}
	}

	now := d.clock.Now()
	d.mu.Lock()
	prev := d.chord.Active(now)
	d.mu.Unlock()

	if chorded[ev.Key] && prev != ev.Key {
		action = ActionChordPending
	}
	if err := d.run(ctx, action); err != nil {
		d.log.Warnf("%s: %v", action, err)
	}

	d.mu.Lock()
	d.chord = Chord{Key: ev.Key, ExpiresAt: now.Add(d.opts.ChordTimeout)}
	d.mu.Unlock()

	return Result{Consumed: true, Action: action}
}

func (d *Dispatcher) run(ctx context.Context, action Action) error {
	switch action {
	case ActionScrollDown:
		return d.page.ScrollBy(ctx, d.opts.SlightScroll)
	case ActionScrollUp:
		return d.page.ScrollBy(ctx, -d.opts.SlightScroll)
	case ActionPageDown:
		return d.page.ScrollBy(ctx, d.opts.FullScroll)
	case ActionPageUp:
		return d.page.ScrollBy(ctx, -d.opts.FullScroll)
	case ActionTop:
		return d.page.ScrollTo(ctx, 0)
	case ActionBottom:
		h, err := d.page.ScrollHeight(ctx)
		if err != nil {
			return fmt.Errorf("reading scroll height: %w", err)
		}
		return d.page.ScrollTo(ctx, h)
	case ActionBack:
		return d.send(ctx, relay.EventBack)
	case ActionForward:
		return d.send(ctx, relay.EventForward)
	case ActionDuplicate:
		return d.send(ctx, relay.EventDuplicate)
	case ActionFocusInput:
		return FocusFirstInput(ctx, d.page)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, ev relay.Event) error {
	if d.msg == nil {
		return nil
	}
	return d.msg.Send(ctx, relay.Message{Event: ev})
}

// SetListening installs or removes the key listener. Re-applying the current
// state does nothing. It returns whether the state changed.
func (d *Dispatcher) SetListening(on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if on == d.listening {
		return false
	}
	if on {
		d.keys.AddKeyListener(d.HandleKey)
	} else {
		d.keys.RemoveKeyListener()
		d.chord = Chord{}
	}
	d.listening = on
	d.log.Debugf("listening=%v", on)
	return true
}

// Listening reports whether the key listener is installed.
func (d *Dispatcher) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// LastKey returns the key still available as a chord prefix, if any.
func (d *Dispatcher) LastKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chord.Active(d.clock.Now())
}
