// Package relay is the privileged message hub between pages and the browser.
// Pages ask it to navigate their own tab; the editor uses it to push a new
// suppression verdict to one tab.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"movekey/logging"
)

// Event is a navigation request a page can make.
type Event string

const (
	EventBack      Event = "back"
	EventForward   Event = "forward"
	EventDuplicate Event = "duplicate"
)

// Message is sent by a page to the relay.
type Message struct {
	Event Event `json:"event"`
}

// Update is pushed to a page: Disable switches its key listener off.
type Update struct {
	Disable bool `json:"disable"`
}

// Sender is the relay's view of who sent a message. It is filled in by the
// relay's own ports, never taken from the message, so a page cannot steer
// another tab.
type Sender struct {
	Tab *int
}

// ErrStaleTab is returned when the sender's tab no longer exists.
var ErrStaleTab = errors.New("stale tab context")

// ErrUnknownEvent is returned for events outside the navigation set.
var ErrUnknownEvent = errors.New("unknown event")

// Tabs performs navigation on browser tabs.
type Tabs interface {
	Exists(tabID int) bool
	GoBack(ctx context.Context, tabID int) error
	GoForward(ctx context.Context, tabID int) error
	Duplicate(ctx context.Context, tabID int) error
}

// Hub routes page messages to Tabs and editor updates to pages.
type Hub struct {
	tabs Tabs
	log  *logging.Logger

	mu        sync.RWMutex
	receivers map[int]map[string]func(Update)
}

// NewHub creates a Hub acting on tabs.
func NewHub(tabs Tabs, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{
		tabs:      tabs,
		log:       log,
		receivers: make(map[int]map[string]func(Update)),
	}
}

// Handle acts on a message from sender. Messages without a sender tab, or
// from a tab that has gone away, are dropped: navigation is not safe to
// replay against whatever tab might now hold that id. Drops return
// ErrStaleTab for the caller's information; there is no retry.
func (h *Hub) Handle(ctx context.Context, sender Sender, msg Message) error {
	if sender.Tab == nil {
		h.log.Debugf("dropping %s: no sender tab", msg.Event)
		return ErrStaleTab
	}
	id := *sender.Tab
	if !h.tabs.Exists(id) {
		h.log.Debugf("dropping %s: tab %d is gone", msg.Event, id)
		return ErrStaleTab
	}

	var err error
	switch msg.Event {
	case EventBack:
		err = h.tabs.GoBack(ctx, id)
	case EventForward:
		err = h.tabs.GoForward(ctx, id)
	case EventDuplicate:
		err = h.tabs.Duplicate(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
	if err != nil {
		return fmt.Errorf("%s tab %d: %w", msg.Event, id, err)
	}
	h.log.Debugf("%s tab %d", msg.Event, id)
	return nil
}

// Port returns a sender bound to tabID.
func (h *Hub) Port(tabID int) *Port {
	return &Port{hub: h, tab: tabID}
}

// Register delivers updates pushed to tabID to fn until the returned
// function is called.
func (h *Hub) Register(tabID int, fn func(Update)) (unregister func()) {
	token := uuid.NewString()

	h.mu.Lock()
	if h.receivers[tabID] == nil {
		h.receivers[tabID] = make(map[string]func(Update))
	}
	h.receivers[tabID][token] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.receivers[tabID], token)
		if len(h.receivers[tabID]) == 0 {
			delete(h.receivers, tabID)
		}
	}
}

// Push delivers u to the receivers registered for tabID only and returns
// how many there were.
func (h *Hub) Push(tabID int, u Update) int {
	h.mu.RLock()
	fns := make([]func(Update), 0, len(h.receivers[tabID]))
	for _, fn := range h.receivers[tabID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
	h.log.Debugf("pushed disable=%v to tab %d (%d receivers)", u.Disable, tabID, len(fns))
	return len(fns)
}

// Port is a page's connection to the hub, bound to its tab.
type Port struct {
	hub *Hub
	tab int
}

// Send implements dispatch.Messenger. Stale-tab drops are not errors for the
// page.
func (p *Port) Send(ctx context.Context, msg Message) error {
	tab := p.tab
	err := p.hub.Handle(ctx, Sender{Tab: &tab}, msg)
	if errors.Is(err, ErrStaleTab) {
		return nil
	}
	return err
}

// Tab returns the port's tab id.
func (p *Port) Tab() int {
	return p.tab
}
