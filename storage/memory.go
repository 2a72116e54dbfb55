package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process substrate. It is used by tests and by hosts that
// do not need persistence. FailGet and FailSet inject substrate errors.
type Memory struct {
	mu      sync.RWMutex
	values  map[string]json.RawMessage
	watches map[string][]chan struct{}

	FailGet error
	FailSet error

	gets int
	sets int
}

// NewMemory creates an empty in-memory substrate.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]json.RawMessage),
		watches: make(map[string][]chan struct{}),
	}
}

// Get implements Substrate.
func (m *Memory) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++

	if m.FailGet != nil {
		return nil, false, m.FailGet
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

// Set implements Substrate.
func (m *Memory) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++

	if m.FailSet != nil {
		return m.FailSet
	}
	m.values[key] = append(json.RawMessage(nil), value...)
	for _, ch := range m.watches[key] {
		notify(ch)
	}
	return nil
}

// SetIfAbsent implements Initializer.
func (m *Memory) SetIfAbsent(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.values[key]; ok {
		return append(json.RawMessage(nil), v...), false, nil
	}
	m.sets++
	if m.FailSet != nil {
		return nil, false, m.FailSet
	}
	m.values[key] = append(json.RawMessage(nil), value...)
	for _, ch := range m.watches[key] {
		notify(ch)
	}
	return append(json.RawMessage(nil), value...), true, nil
}

// Watch implements Watcher.
func (m *Memory) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.watches[key] = append(m.watches[key], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watches[key]
		for i, c := range list {
			if c == ch {
				m.watches[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Writes returns how many Set calls were made.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sets
}

// Reads returns how many Get calls were made.
func (m *Memory) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets
}
