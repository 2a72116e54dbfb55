package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// File stores every key in one JSON object on disk, the way the browser
// profile keeps one record per extension. Each Get or Set holds an advisory
// flock on a sibling lock file for the duration of that single operation.
type File struct {
	path string
}

// DefaultFilePath returns ~/.config/movekey/rules.json.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "movekey", "rules.json"), nil
}

// NewFile creates a file substrate at path, creating its directory.
func NewFile(path string) (*File, error) {
	if path == "" {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, fmt.Errorf("resolving store path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Get implements Substrate.
func (f *File) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var values map[string]json.RawMessage
	err := f.withLock(unix.LOCK_SH, func() error {
		var err error
		values, err = f.read()
		return err
	})
	if err != nil {
		return nil, false, err
	}

	v, ok := values[key]
	return v, ok, nil
}

// Set implements Substrate.
func (f *File) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return f.withLock(unix.LOCK_EX, func() error {
		values, err := f.read()
		if err != nil {
			return err
		}
		values[key] = value
		return f.write(values)
	})
}

// SetIfAbsent implements Initializer. The check and the write happen under
// one exclusive lock.
func (f *File) SetIfAbsent(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var stored json.RawMessage
	var created bool
	err := f.withLock(unix.LOCK_EX, func() error {
		values, err := f.read()
		if err != nil {
			return err
		}
		if v, ok := values[key]; ok {
			stored = v
			return nil
		}
		values[key] = value
		if err := f.write(values); err != nil {
			return err
		}
		stored, created = value, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// write replaces the file with values. The caller holds LOCK_EX.
func (f *File) write(values map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}

	// Write to a temp file and rename so readers never see a torn file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

// Watch implements Watcher using fsnotify on the store's directory, so
// rename-based replacement is observed. Every change to the file signals;
// key is not inspected.
func (f *File) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching store dir: %w", err)
	}

	ch := make(chan struct{}, 1)
	name := filepath.Clean(f.path)

	go func() {
		defer close(ch)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					notify(ch)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return ch, nil
}

func (f *File) read() (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing store: %w", err)
	}
	return values, nil
}

func (f *File) withLock(how int, fn func() error) error {
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening lock: %w", err)
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), how); err != nil {
		return fmt.Errorf("locking store: %w", err)
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	return fn()
}
