package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Storage.Backend != def.Storage.Backend || cfg.Keys.SlightScroll != 60 || cfg.ChordTimeout() != 2*time.Second {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[storage]
backend = "sqlite"

[keys]
fullScroll = 800
editorSelectors = ["div.monaco-editor"]

[browser]
headless = true
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("expected sqlite, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Key != "disablelist" || cfg.Storage.PollMillis != 1000 {
		t.Errorf("unset storage values should keep defaults, got %+v", cfg.Storage)
	}
	if cfg.Keys.FullScroll != 800 || cfg.Keys.SlightScroll != 60 {
		t.Errorf("unexpected keys %+v", cfg.Keys)
	}
	if len(cfg.Keys.EditorSelectors) != 1 || cfg.Keys.EditorSelectors[0] != "div.monaco-editor" {
		t.Errorf("expected selectors replaced, got %v", cfg.Keys.EditorSelectors)
	}
	if !cfg.Browser.Headless {
		t.Error("expected headless from file")
	}
}

func TestLoadEmptySelectorList(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "[keys]\neditorSelectors = []\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Keys.EditorSelectors) != 0 {
		t.Errorf("an explicit empty list should clear the selectors, got %v", cfg.Keys.EditorSelectors)
	}
	if len(Default().Keys.EditorSelectors) != 2 {
		t.Error("merge must not alter the defaults")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[storage\n", "loading config"},
		{"unknown key", "[storage]\nbackend = \"file\"\ncolour = 1\n", "unknown keys"},
		{"backend", "[storage]\nbackend = \"redis\"\n", "unknown storage backend"},
		{"level", "[log]\nlevel = \"loud\"\n", "unknown log level"},
		{"negative", "[keys]\nfullScroll = -5\n", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefaultTOMLMatchesDefault(t *testing.T) {
	var cfg Config
	md, err := toml.Decode(DefaultTOML(), &cfg)
	if err != nil {
		t.Fatalf("DefaultTOML does not parse: %v", err)
	}
	if len(md.Undecoded()) > 0 {
		t.Errorf("DefaultTOML has unknown keys %v", md.Undecoded())
	}

	merged := merge(Default(), &cfg, md)
	def := Default()
	if merged.Storage != def.Storage || merged.Browser != def.Browser || merged.Log != def.Log {
		t.Errorf("DefaultTOML disagrees with Default:\n%+v\n%+v", merged, def)
	}
	if merged.Keys.FullScroll != def.Keys.FullScroll || len(merged.Keys.EditorSelectors) != 2 {
		t.Errorf("DefaultTOML keys disagree with Default: %+v", merged.Keys)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if cfg.StorageTimeout() != 5*time.Second || cfg.PollInterval() != time.Second || cfg.BrowserTimeout() != 10*time.Second {
		t.Errorf("unexpected durations %v %v %v", cfg.StorageTimeout(), cfg.PollInterval(), cfg.BrowserTimeout())
	}
}
