package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"movekey/logging"
	"movekey/storage"
)

// Store reads and commits the rule list kept under one substrate key.
// Commits are read-latest-then-write: each begins with a fresh Load, so two
// racing editors lose at most one another's commit, never the list's shape.
type Store struct {
	sub     storage.Substrate
	key     string
	timeout time.Duration
	log     *logging.Logger
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Key     string        // storage key; DefaultKey if empty
	Timeout time.Duration // per substrate call; 0 means no timeout
	Logger  *logging.Logger
}

// NewStore creates a Store over sub.
func NewStore(sub storage.Substrate, opts StoreOptions) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Store{sub: sub, key: opts.Key, timeout: opts.Timeout, log: opts.Logger}
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Load returns the persisted rule list. On first run the key is missing:
// Load writes an empty list, so concurrent readers see a defined value from
// then on. Substrates implementing storage.Initializer write it only if the
// key is still missing, so a commit made meanwhile is returned, not erased.
func (s *Store) Load(ctx context.Context) ([]Rule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, ok, err := s.sub.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", ErrStorageUnavailable, s.key, err)
	}
	if !ok {
		raw, ok = s.initialize(ctx)
		if !ok {
			return []Rule{}, nil
		}
	}

	list := []Rule{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", s.key, err)
		}
	}
	return list, nil
}

// initialize writes the empty list under the key. It returns the value now
// stored, or false when nothing could be written; failures are only logged.
func (s *Store) initialize(ctx context.Context) (json.RawMessage, bool) {
	empty := json.RawMessage(`[]`)

	init, ok := s.sub.(storage.Initializer)
	if !ok {
		if err := s.sub.Set(ctx, s.key, empty); err != nil {
			s.log.Warnf("initializing %s: %v", s.key, err)
			return nil, false
		}
		s.log.Debugf("initialized empty %s", s.key)
		return empty, true
	}

	stored, created, err := init.SetIfAbsent(ctx, s.key, empty)
	if err != nil {
		s.log.Warnf("initializing %s: %v", s.key, err)
		return nil, false
	}
	if created {
		s.log.Debugf("initialized empty %s", s.key)
	} else {
		s.log.Debugf("%s was written before it could be initialized", s.key)
	}
	return stored, true
}

// Commit applies ops to the latest persisted list and writes the result in
// one Set. It returns the new list. If the write fails nothing is applied
// and the error wraps ErrStorageUnavailable.
func (s *Store) Commit(ctx context.Context, ops Ops) ([]Rule, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	next := Apply(current, ops)

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", s.key, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.sub.Set(ctx, s.key, data); err != nil {
		return nil, fmt.Errorf("%w: saving %s: %w", ErrStorageUnavailable, s.key, err)
	}

	s.log.Infof("committed %s: %d deleted, %d mutated, %d added, %d total",
		s.key, len(ops.Deletes), len(ops.Mutates), len(ops.Adds), len(next))
	return next, nil
}

// Changes signals whenever the persisted list may have changed, by watching
// the substrate or, failing that, polling it every interval.
func (s *Store) Changes(ctx context.Context, interval time.Duration) (<-chan struct{}, error) {
	return storage.Changes(ctx, s.sub, s.key, interval)
}
