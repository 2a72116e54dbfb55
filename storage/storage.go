// Package storage provides the key-value substrates that persist movekey's
// rule list. Every substrate stores opaque JSON values under string keys and
// is safe for use from multiple goroutines. Writes from other processes become
// visible eventually; there is no compare-and-swap.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned by substrates used after Close.
var ErrClosed = errors.New("storage closed")

// Substrate is an asynchronous key-value store.
type Substrate interface {
	// Get returns the value stored under key. ok is false if the key has
	// never been written.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// Set replaces the value stored under key in a single write.
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// Initializer is implemented by substrates that can write a key only when it
// is missing, as one step. SetIfAbsent returns the value stored under key
// afterwards and whether it was the one just written.
type Initializer interface {
	SetIfAbsent(ctx context.Context, key string, value json.RawMessage) (stored json.RawMessage, created bool, err error)
}

// Watcher is implemented by substrates that can report changes made by
// other writers. The returned channel receives a value whenever key may have
// changed and is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
}

// Changes returns a change channel for key. Substrates implementing Watcher
// are watched directly; anything else is polled every interval.
func Changes(ctx context.Context, s Substrate, key string, interval time.Duration) (<-chan struct{}, error) {
	if w, ok := s.(Watcher); ok {
		return w.Watch(ctx, key)
	}
	return Poll(ctx, s, key, interval), nil
}

// Poll reads key every interval and signals when its bytes change.
// Read errors are skipped; the next tick tries again.
func Poll(ctx context.Context, s Substrate, key string, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ch := make(chan struct{}, 1)
	last, _, _ := s.Get(ctx, key)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur, _, err := s.Get(ctx, key)
			if err != nil {
				continue
			}
			if string(cur) != string(last) {
				last = cur
				notify(ch)
			}
		}
	}()

	return ch
}

// notify performs a non-blocking send; a pending signal already covers the
// new change.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
