package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "test", LevelWarn)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[test] [WARN] warn 3") {
		t.Errorf("expected warn entry, got %q", out)
	}
	if !strings.Contains(out, "[test] [ERROR] error 4") {
		t.Errorf("expected error entry, got %q", out)
	}
}

func TestWithSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "root", LevelDebug)
	child := root.With("child")

	child.Infof("hello")
	if !strings.Contains(buf.String(), "[child] [INFO] hello") {
		t.Errorf("expected child entry in shared output, got %q", buf.String())
	}
	if child.SessionID() != root.SessionID() {
		t.Error("expected child to share session id")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "file", LevelInfo)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Infof("persisted")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, l.SessionID()+"-movekey.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Errorf("expected entry in log file, got %q", data)
	}
}

func TestNilAndDiscard(t *testing.T) {
	var l *Logger
	l.Infof("no panic")
	Discard().Errorf("dropped")
}
