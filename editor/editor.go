// Package editor is the rule editor for one page: it shows the rules that
// match the page URL, lets the user change or add patterns, and commits the
// result to the rule store.
package editor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"movekey/content"
	"movekey/logging"
	"movekey/relay"
	"movekey/rules"
)

var (
	// ErrNoRow is returned for a row index out of range.
	ErrNoRow = errors.New("no such row")
	// ErrNothingToSave is returned by Save when every row is flagged or
	// there are no rows.
	ErrNothingToSave = errors.New("nothing to save")
)

// Pusher delivers an update to one tab. relay.Hub implements it.
type Pusher interface {
	Push(tabID int, u relay.Update) int
}

// Row is one editable rule.
type Row struct {
	ID       int // rules.NewID until the row is committed
	Pattern  string
	Mismatch bool  // the pattern is empty, malformed or does not match the page URL
	Err      error // compile error when malformed
	Dirty    bool  // changed since last commit
}

// Stored reports whether the row has been committed.
func (r Row) Stored() bool {
	return r.ID >= 0
}

// Editor holds the editing session for one page.
type Editor struct {
	store *rules.Store
	push  Pusher
	pc    content.PageContext
	log   *logging.Logger

	maxID int // highest id seen; new rows are numbered above it
	rows  []Row
}

// SaveResult reports what Save committed.
type SaveResult struct {
	Committed int
	Skipped   []int // indexes of flagged rows left out of the commit
	Disable   bool  // the verdict pushed to the tab
}

// Open loads the rules and starts a session for the page. When no rule
// matches the page, the session starts with one new row holding the host
// suggestion.
func Open(ctx context.Context, store *rules.Store, push Pusher, pc content.PageContext, log *logging.Logger) (*Editor, error) {
	if log == nil {
		log = logging.Discard()
	}
	list, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening editor: %w", err)
	}

	e := &Editor{store: store, push: push, pc: pc, log: log, maxID: rules.MaxID(list)}
	for _, r := range list {
		if ok, _ := rules.Match(pc.URL, r.Pattern); ok {
			e.rows = append(e.rows, Row{ID: r.ID, Pattern: r.Pattern})
		}
	}
	if len(e.rows) == 0 {
		e.AddRow()
		e.UseHostSuggestion()
	}
	log.Debugf("editor for %s: %d rows, max id %d", pc.URL, len(e.rows), e.maxID)
	return e, nil
}

// URL returns the page URL being edited.
func (e *Editor) URL() string {
	return e.pc.URL
}

// Rows returns a copy of the rows.
func (e *Editor) Rows() []Row {
	return append([]Row(nil), e.rows...)
}

// Saved reports whether every row is committed and unchanged.
func (e *Editor) Saved() bool {
	for _, r := range e.rows {
		if !r.Stored() || r.Dirty {
			return false
		}
	}
	return true
}

// CanSave reports whether at least one row would be committed.
func (e *Editor) CanSave() bool {
	for _, r := range e.rows {
		if !r.Mismatch {
			return true
		}
	}
	return false
}

// check flags row i. An empty pattern matches every URL, so it is flagged
// rather than saved.
func (e *Editor) check(i int) {
	r := &e.rows[i]
	if strings.TrimSpace(r.Pattern) == "" {
		r.Err = nil
		r.Mismatch = true
		return
	}
	ok, err := rules.Match(e.pc.URL, r.Pattern)
	r.Err = err
	r.Mismatch = err != nil || !ok
}

// SetPattern replaces row i's pattern and rechecks it.
func (e *Editor) SetPattern(i int, pattern string) error {
	if i < 0 || i >= len(e.rows) {
		return fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	e.rows[i].Pattern = pattern
	e.rows[i].Dirty = true
	e.check(i)
	return nil
}

// AddRow appends an empty new row and returns its index.
func (e *Editor) AddRow() int {
	e.rows = append(e.rows, Row{ID: rules.NewID, Dirty: true})
	e.check(len(e.rows) - 1)
	return len(e.rows) - 1
}

func (e *Editor) setFirst(pattern string) {
	if len(e.rows) == 0 {
		e.AddRow()
	}
	e.SetPattern(0, pattern)
}

// UseHostSuggestion fills the first row with a pattern for the page's host.
func (e *Editor) UseHostSuggestion() {
	e.setFirst(rules.SuggestHost(e.pc.URL))
}

// UsePageSuggestion fills the first row with a pattern for the exact page.
func (e *Editor) UsePageSuggestion() {
	e.setFirst(rules.SuggestPage(e.pc.URL))
}

// Save commits every row that is not flagged: stored rows as pattern
// changes, new rows as additions numbered above the highest id seen. Flagged
// rows stay in the editor uncommitted. On success the page's new verdict is
// pushed to its tab. On failure nothing changes.
func (e *Editor) Save(ctx context.Context) (SaveResult, error) {
	var res SaveResult
	if !e.CanSave() {
		return res, ErrNothingToSave
	}

	var ops rules.Ops
	added := make(map[int]int) // row index -> requested id
	next := e.maxID
	for i, r := range e.rows {
		switch {
		case r.Mismatch:
			res.Skipped = append(res.Skipped, i)
		case r.Stored():
			ops.Mutates = append(ops.Mutates, rules.Mutate{ID: r.ID, Pattern: r.Pattern})
		default:
			next++
			ops.Adds = append(ops.Adds, rules.Rule{ID: next, Pattern: r.Pattern})
			added[i] = next
		}
	}

	list, err := e.store.Commit(ctx, ops)
	if err != nil {
		return res, fmt.Errorf("saving rules: %w", err)
	}

	e.maxID = max(next, rules.MaxID(list))
	e.claimIDs(list, added)
	for i := range e.rows {
		if !e.rows[i].Mismatch {
			e.rows[i].Dirty = false
		}
	}
	res.Committed = len(ops.Mutates) + len(ops.Adds)
	res.Disable = e.pushVerdict(list)

	if len(res.Skipped) > 0 {
		e.log.Warnf("saved %d rules for %s, skipped %d flagged", res.Committed, e.pc.URL, len(res.Skipped))
	}
	return res, nil
}

// claimIDs gives each added row the id its rule was stored under. The store
// renumbers an add whose id was taken concurrently, so a row falls back to
// the highest-numbered unclaimed rule with its pattern.
func (e *Editor) claimIDs(list []rules.Rule, added map[int]int) {
	claimed := make(map[int]bool)
	for _, r := range e.rows {
		if r.Stored() {
			claimed[r.ID] = true
		}
	}
	byID := make(map[int]rules.Rule, len(list))
	for _, r := range list {
		byID[r.ID] = r
	}

	for _, i := range slices.Sorted(maps.Keys(added)) {
		want := added[i]
		row := &e.rows[i]
		if r, ok := byID[want]; ok && r.Pattern == row.Pattern && !claimed[want] {
			row.ID = want
			claimed[want] = true
			continue
		}
		for j := len(list) - 1; j >= 0; j-- {
			if r := list[j]; r.Pattern == row.Pattern && !claimed[r.ID] {
				row.ID = r.ID
				claimed[r.ID] = true
				break
			}
		}
	}
}

// Delete removes row i. A stored row is deleted from the store at once and
// the page's new verdict is pushed; a new row is only dropped locally.
func (e *Editor) Delete(ctx context.Context, i int) error {
	if i < 0 || i >= len(e.rows) {
		return fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	row := e.rows[i]
	if row.Stored() {
		list, err := e.store.Commit(ctx, rules.Ops{Deletes: []int{row.ID}})
		if err != nil {
			return fmt.Errorf("deleting rule %d: %w", row.ID, err)
		}
		e.maxID = max(e.maxID, rules.MaxID(list))
		e.pushVerdict(list)
	}
	e.rows = slices.Delete(e.rows, i, i+1)
	return nil
}

func (e *Editor) pushVerdict(list []rules.Rule) bool {
	disable := rules.ShouldSuppress(e.pc.URL, list)
	if e.push != nil {
		n := e.push.Push(e.pc.TabID, relay.Update{Disable: disable})
		e.log.Debugf("pushed disable=%v to tab %d (%d receivers)", disable, e.pc.TabID, n)
	}
	return disable
}
