package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"movekey/storage"
)

func TestNextID(t *testing.T) {
	tests := []struct {
		name string
		list []Rule
		want int
	}{
		{"empty", nil, 0},
		{"single", []Rule{{ID: 0}}, 1},
		{"gap", []Rule{{ID: 0}, {ID: 7}, {ID: 3}}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextID(tt.list); got != tt.want {
				t.Errorf("NextID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	list := []Rule{{0, "a"}, {1, "b"}, {2, "c"}}

	got := Apply(list, Ops{
		Deletes: []int{1},
		Mutates: []Mutate{{ID: 2, Pattern: "C"}, {ID: 1, Pattern: "gone"}, {ID: 9, Pattern: "missing"}},
		Adds:    []Rule{{ID: 3, Pattern: "d"}},
	})

	want := []Rule{{0, "a"}, {2, "C"}, {3, "d"}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rule %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	// Input untouched.
	if list[2].Pattern != "c" || len(list) != 3 {
		t.Errorf("Apply modified its input: %v", list)
	}
}

func TestApplyAssignsIDs(t *testing.T) {
	list := []Rule{{0, "a"}, {4, "b"}}

	got := Apply(list, Ops{
		Deletes: []int{4},
		Adds: []Rule{
			{ID: NewID, Pattern: "new"},
			{ID: 0, Pattern: "collides"},
			{ID: 9, Pattern: "explicit"},
			{ID: NewID, Pattern: "after explicit"},
		},
	})

	ids := []int{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	// 4 was deleted in this commit and must not come back.
	want := []int{0, 5, 6, 9, 10}
	if len(ids) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("expected ids %v, got %v", want, ids)
			break
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		url, pattern string
		want         bool
		wantErr      bool
	}{
		{"https://a.com/page", `^https://a\.com`, true, false},
		{"https://b.com/page", `^https://a\.com`, false, false},
		{"https://a.com/page", `page$`, true, false},
		{"https://a.com/x", `(?!https)`, true, false}, // lookahead is ECMAScript
		{"https://a.com/", `[`, false, true},
		{"https://a.com/", `(unclosed`, false, true},
	}
	for _, tt := range tests {
		got, err := Match(tt.url, tt.pattern)
		if got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.url, tt.pattern, got, tt.want)
		}
		if (err != nil) != tt.wantErr {
			t.Errorf("Match(%q, %q) err = %v, wantErr %v", tt.url, tt.pattern, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrMalformedPattern) {
			t.Errorf("expected ErrMalformedPattern, got %v", err)
		}
	}
}

func TestMatchIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		ok, err := Match("https://a.com/page", `a\.com`)
		if !ok || err != nil {
			t.Fatalf("call %d: expected match, got %v %v", i, ok, err)
		}
		ok, err = Match("https://a.com/page", `(`)
		if ok || err == nil {
			t.Fatalf("call %d: expected invalid pattern, got %v %v", i, ok, err)
		}
	}
}

func TestShouldSuppress(t *testing.T) {
	list := []Rule{
		{0, `[`}, // malformed, skipped
		{1, `^https://a\.com`},
	}
	if !ShouldSuppress("https://a.com/page", list) {
		t.Error("expected suppression")
	}
	if ShouldSuppress("https://b.com/", list) {
		t.Error("malformed rule must never suppress")
	}
	if ShouldSuppress("https://a.com/", nil) {
		t.Error("empty list must not suppress")
	}

	// Order does not affect the result.
	reversed := []Rule{list[1], list[0]}
	if ShouldSuppress("https://a.com/page", reversed) != ShouldSuppress("https://a.com/page", list) {
		t.Error("order changed the verdict")
	}
}

func TestEvaluate(t *testing.T) {
	list := []Rule{{0, `a\.com`}, {1, `(`}, {2, `\.com/`}, {3, `b\.com`}}
	v := Evaluate("https://a.com/x", list)

	if !v.Suppress {
		t.Error("expected suppress")
	}
	if len(v.Matched) != 2 || v.Matched[0].ID != 0 || v.Matched[1].ID != 2 {
		t.Errorf("unexpected matches %v", v.Matched)
	}
	if len(v.Invalid) != 1 || v.Invalid[0].Rule.ID != 1 {
		t.Errorf("unexpected invalid %v", v.Invalid)
	}
}

func TestSuggestHost(t *testing.T) {
	p := SuggestHost("https://example.com/path?x=1")

	for _, u := range []string{"https://example.com/", "https://example.com/anything", "http://example.com", "https://example.com?q=1"} {
		if ok, err := Match(u, p); !ok || err != nil {
			t.Errorf("expected %q to match %q (err %v)", p, u, err)
		}
	}
	for _, u := range []string{"https://evilexample.com/", "https://example.com.evil.net/", "https://example.community/"} {
		if ok, _ := Match(u, p); ok {
			t.Errorf("expected %q not to match %q", p, u)
		}
	}
}

func TestSuggestHostKeepsPort(t *testing.T) {
	p := SuggestHost("http://localhost:8080/app")
	if ok, _ := Match("https://localhost:8080/other", p); !ok {
		t.Errorf("expected port-qualified host match for %q", p)
	}
	if ok, _ := Match("https://localhost:9090/other", p); ok {
		t.Errorf("expected other port to miss for %q", p)
	}
}

func TestSuggestPage(t *testing.T) {
	p := SuggestPage("https://example.com/a.b?x=(1)")
	want := `^https?://example\.com/a\.b\?x=\(1\)$`
	if p != want {
		t.Errorf("expected %q, got %q", want, p)
	}
	if ok, _ := Match("http://example.com/a.b?x=(1)", p); !ok {
		t.Error("expected http variant to match")
	}
	if ok, _ := Match("https://example.com/aXb?x=(1)", p); ok {
		t.Error("dot must be escaped")
	}

	if p := SuggestPage("file:///tmp/x.html"); p != `^file:///tmp/x\.html$` {
		t.Errorf("unexpected file pattern %q", p)
	}
}

func newTestStore(t *testing.T) (*Store, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	return NewStore(mem, StoreOptions{}), mem
}

func TestStoreLoadInitializes(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	list, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list)
	}

	raw, ok, _ := mem.Get(ctx, DefaultKey)
	if !ok || string(raw) != "[]" {
		t.Errorf("expected lazy init to persist [], got %s ok=%v", raw, ok)
	}

	// Second load reads the initialized value and does not write again.
	writes := mem.Writes()
	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if mem.Writes() != writes {
		t.Error("expected no write on second load")
	}
}

func TestStoreLoadInitFailureIsNotFatal(t *testing.T) {
	s, mem := newTestStore(t)
	mem.FailSet = errors.New("disconnected")

	list, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("expected lazy init failure to be swallowed, got %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %v", list)
	}
}

func TestStoreCommitAddOne(t *testing.T) {
	ctx := context.Background()
	for _, existing := range [][]Rule{{}, {{0, "a"}}, {{2, "a"}, {5, "b"}}} {
		s, mem := newTestStore(t)
		data, _ := json.Marshal(existing)
		mem.Set(ctx, DefaultKey, data)

		next := NextID(existing)
		got, err := s.Commit(ctx, Ops{Adds: []Rule{{ID: next, Pattern: "new"}}})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if len(got) != len(existing)+1 {
			t.Errorf("expected length %d, got %d", len(existing)+1, len(got))
		}
		last := got[len(got)-1]
		if last.ID != MaxID(existing)+1 {
			t.Errorf("expected new id %d, got %d", MaxID(existing)+1, last.ID)
		}

		reloaded, _ := s.Load(ctx)
		if len(reloaded) != len(got) {
			t.Errorf("expected persisted list %v, got %v", got, reloaded)
		}
	}
}

func TestStoreCommitReadsLatest(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)
	other := NewStore(mem, StoreOptions{})

	if _, err := s.Commit(ctx, Ops{Adds: []Rule{{ID: 0, Pattern: "a"}}}); err != nil {
		t.Fatal(err)
	}
	// Another editor commits in between.
	if _, err := other.Commit(ctx, Ops{Adds: []Rule{{ID: 1, Pattern: "b"}}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Commit(ctx, Ops{Mutates: []Mutate{{ID: 0, Pattern: "A"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Pattern != "A" || got[1].Pattern != "b" {
		t.Errorf("expected both editors' rules, got %v", got)
	}
}

func TestStoreCommitFailure(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)
	if _, err := s.Commit(ctx, Ops{Adds: []Rule{{ID: 0, Pattern: "a"}}}); err != nil {
		t.Fatal(err)
	}

	mem.FailSet = errors.New("quota exceeded")
	_, err := s.Commit(ctx, Ops{Deletes: []int{0}})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	mem.FailSet = nil
	list, _ := s.Load(ctx)
	if len(list) != 1 {
		t.Errorf("failed commit must not apply, got %v", list)
	}

	mem.FailGet = errors.New("disconnected")
	if _, err := s.Load(ctx); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected load failure to wrap ErrStorageUnavailable, got %v", err)
	}
}

func TestStoreDeleteLast(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Commit(ctx, Ops{Adds: []Rule{{ID: 0, Pattern: `^https://a\.com`}}})

	got, err := s.Commit(ctx, Ops{Deletes: []int{0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
	if ShouldSuppress("https://a.com/page", got) {
		t.Error("expected no suppression after deleting the only rule")
	}

	// Persisted as an empty array, not null.
	raw, _ := json.Marshal(got)
	if string(raw) != "[]" {
		t.Errorf("expected [], got %s", raw)
	}
}

// missFirstGet reports the key missing on its first Get, after running
// meanwhile, as if another context wrote between the read and the init.
type missFirstGet struct {
	*storage.Memory
	meanwhile func()
	missed    bool
}

func (m *missFirstGet) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if !m.missed {
		m.missed = true
		m.meanwhile()
		return nil, false, nil
	}
	return m.Memory.Get(ctx, key)
}

func TestStoreLoadKeepsConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	writer := NewStore(mem, StoreOptions{})
	sub := &missFirstGet{Memory: mem, meanwhile: func() {
		if _, err := writer.Commit(ctx, Ops{Adds: []Rule{{ID: 0, Pattern: `^https://a\.com`}}}); err != nil {
			t.Fatal(err)
		}
	}}
	reader := NewStore(sub, StoreOptions{})

	list, err := reader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Pattern != `^https://a\.com` {
		t.Errorf("expected the concurrent commit returned, got %v", list)
	}
	persisted, err := writer.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 {
		t.Errorf("first-run Load erased a committed rule, stored %v", persisted)
	}
}

// plainSubstrate hides Memory's SetIfAbsent.
type plainSubstrate struct{ m *storage.Memory }

func (p plainSubstrate) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return p.m.Get(ctx, key)
}

func (p plainSubstrate) Set(ctx context.Context, key string, value json.RawMessage) error {
	return p.m.Set(ctx, key, value)
}

func TestStoreLoadInitializesWithoutInitializer(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := NewStore(plainSubstrate{mem}, StoreOptions{})

	list, err := s.Load(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v %v", list, err)
	}
	if raw, ok, _ := mem.Get(ctx, DefaultKey); !ok || string(raw) != "[]" {
		t.Errorf("expected [] written through Set, got %s ok=%v", raw, ok)
	}
}

func TestCompileCacheIsBounded(t *testing.T) {
	for i := 0; i < cacheSize*2; i++ {
		if err := Valid(fmt.Sprintf(`^https://a\.com/%d`, i)); err != nil {
			t.Fatal(err)
		}
	}
	if n := patterns.Len(); n > cacheSize {
		t.Errorf("expected at most %d cached patterns, got %d", cacheSize, n)
	}
	// Evicted patterns compile again with the same result.
	if ok, err := Match("https://a.com/0", `^https://a\.com/0`); err != nil || !ok {
		t.Errorf("expected evicted pattern to match again, got %v %v", ok, err)
	}
}
