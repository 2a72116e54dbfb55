// Package content runs movekey inside one page: it decides at load whether
// the key dispatcher should listen, and follows suppression updates pushed by
// the editor or seen in storage.
package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"movekey/dispatch"
	"movekey/logging"
	"movekey/relay"
	"movekey/rules"
)

// PageContext identifies the page the script runs in.
type PageContext struct {
	TabID int
	URL   string
}

// Config wires a Script to its page and the shared services.
type Config struct {
	Context PageContext
	Page    dispatch.Page
	Keys    dispatch.KeySource
	Clock   dispatch.Clock
	Options dispatch.Options
	Store   *rules.Store
	Hub     *relay.Hub
	Logger  *logging.Logger
}

// Script is the per-page controller.
type Script struct {
	pc    PageContext
	store *rules.Store
	hub   *relay.Hub
	d     *dispatch.Dispatcher
	log   *logging.Logger

	mu         sync.Mutex
	unregister func()
	verdict    rules.Verdict
	closed     bool
}

// New builds the page's dispatcher, sending relay messages through the hub
// port for the page's tab.
func New(cfg Config) (*Script, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	var msg dispatch.Messenger
	if cfg.Hub != nil {
		msg = cfg.Hub.Port(cfg.Context.TabID)
	}
	d, err := dispatch.New(dispatch.Config{
		Page:      cfg.Page,
		Messenger: msg,
		Keys:      cfg.Keys,
		Clock:     cfg.Clock,
		Logger:    log,
		Options:   cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return &Script{
		pc:    cfg.Context,
		store: cfg.Store,
		hub:   cfg.Hub,
		d:     d,
		log:   log,
	}, nil
}

// Dispatcher returns the page's key dispatcher.
func (s *Script) Dispatcher() *dispatch.Dispatcher {
	return s.d
}

// Start evaluates the rules for the page URL and installs the key listener
// unless a rule matches. When the rules cannot be read the page behaves as
// if there were none. Start also subscribes to updates pushed to the tab.
func (s *Script) Start(ctx context.Context) rules.Verdict {
	v := s.evaluate(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return v
	}
	s.apply(v)
	if s.unregister == nil && s.hub != nil {
		s.unregister = s.hub.Register(s.pc.TabID, s.Receive)
	}
	s.mu.Unlock()

	s.log.Infof("tab %d %s: listening=%v", s.pc.TabID, s.pc.URL, !v.Suppress)
	return v
}

func (s *Script) evaluate(ctx context.Context) rules.Verdict {
	var list []rules.Rule
	if s.store != nil {
		var err error
		list, err = s.store.Load(ctx)
		if err != nil {
			s.log.Warnf("loading rules for %s, continuing without: %v", s.pc.URL, err)
			list = nil
		}
	}
	v := rules.Evaluate(s.pc.URL, list)
	for _, inv := range v.Invalid {
		s.log.Debugf("skipping rule %d: %v", inv.Rule.ID, inv.Err)
	}
	return v
}

// apply records v and sets listening from it. It does nothing once the
// script is closed. The caller holds s.mu.
func (s *Script) apply(v rules.Verdict) {
	if s.closed {
		return
	}
	s.verdict = v
	s.d.SetListening(!v.Suppress)
}

// Receive applies an update pushed to the page. An update carries only the
// disable flag, so it changes Verdict().Suppress and leaves Matched and
// Invalid as the last evaluation found them.
func (s *Script) Receive(u relay.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	v := s.verdict
	v.Suppress = u.Disable
	s.apply(v)
	s.log.Debugf("tab %d: disable=%v", s.pc.TabID, u.Disable)
}

// Refresh re-reads the rules and re-applies the verdict.
func (s *Script) Refresh(ctx context.Context) rules.Verdict {
	v := s.evaluate(ctx)
	s.mu.Lock()
	s.apply(v)
	s.mu.Unlock()
	return v
}

// Follow refreshes whenever the stored rules change, until ctx is done.
func (s *Script) Follow(ctx context.Context, interval time.Duration) error {
	if s.store == nil {
		return nil
	}
	changes, err := s.store.Changes(ctx, interval)
	if err != nil {
		return fmt.Errorf("watching rules: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			s.Refresh(ctx)
		}
	}
}

// Verdict returns the most recent evaluation, with Suppress updated by any
// later push.
func (s *Script) Verdict() rules.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

// Close stops listening and unsubscribes from updates. It is final: later
// Start, Refresh or Receive calls, including ones already in flight, leave
// the listener off.
func (s *Script) Close() {
	s.mu.Lock()
	s.closed = true
	unregister := s.unregister
	s.unregister = nil
	s.d.SetListening(false)
	s.mu.Unlock()

	if unregister != nil {
		unregister()
	}
}
