// Package rules provides the per-site disable list: URL-matching rules that
// switch movekey off on the pages they match. Rules are kept as one ordered
// list under a single storage key and changed through three-way commits.
package rules

import "errors"

// Rule disables movekey on every URL its pattern matches.
// Pattern is an ECMAScript regular expression source.
type Rule struct {
	ID      int    `json:"id"`
	Pattern string `json:"pattern"`
}

// NewID marks a rule that has not been assigned an id yet.
const NewID = -1

// DefaultKey is the storage key the rule list lives under.
const DefaultKey = "disablelist"

var (
	// ErrMalformedPattern is returned when a rule's pattern does not compile.
	ErrMalformedPattern = errors.New("malformed pattern")

	// ErrStorageUnavailable is returned when the substrate fails or times out.
	ErrStorageUnavailable = errors.New("rule storage unavailable")
)

// Mutate replaces the pattern of the rule with the given id.
type Mutate struct {
	ID      int    `json:"id"`
	Pattern string `json:"pattern"`
}

// Ops is one commit's worth of changes. They are applied in the order
// deletes, mutates, adds.
type Ops struct {
	Deletes []int
	Adds    []Rule
	Mutates []Mutate
}

// Empty returns true if the commit would change nothing.
func (o Ops) Empty() bool {
	return len(o.Deletes) == 0 && len(o.Adds) == 0 && len(o.Mutates) == 0
}

// NextID returns the id the next added rule receives: one more than the
// largest id in list, or 0 for an empty list. Ids are never reused.
func NextID(list []Rule) int {
	return MaxID(list) + 1
}

// MaxID returns the largest id in list, or -1 if list is empty.
func MaxID(list []Rule) int {
	max := -1
	for _, r := range list {
		if r.ID > max {
			max = r.ID
		}
	}
	return max
}

// Apply returns list with ops applied. list is not modified.
// Mutates of ids that no longer exist are ignored. Adds keep their ids
// unless the id is NewID or already taken, in which case the next free id
// is assigned.
func Apply(list []Rule, ops Ops) []Rule {
	deleted := make(map[int]bool, len(ops.Deletes))
	for _, id := range ops.Deletes {
		deleted[id] = true
	}

	out := make([]Rule, 0, len(list)+len(ops.Adds))
	for _, r := range list {
		if !deleted[r.ID] {
			out = append(out, r)
		}
	}

	for _, m := range ops.Mutates {
		for i := range out {
			if out[i].ID == m.ID {
				out[i].Pattern = m.Pattern
			}
		}
	}

	// Ids of rules deleted by this commit stay retired.
	next := NextID(list)
	taken := make(map[int]bool, len(out))
	for _, r := range out {
		taken[r.ID] = true
	}
	for _, a := range ops.Adds {
		if a.ID < 0 || taken[a.ID] {
			a.ID = next
		}
		taken[a.ID] = true
		if a.ID >= next {
			next = a.ID + 1
		}
		out = append(out, a)
	}

	return out
}
