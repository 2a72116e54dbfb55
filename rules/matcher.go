package rules

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// matchTimeout bounds a single pattern evaluation against runaway
// backtracking.
const matchTimeout = 250 * time.Millisecond

// cacheSize is how many compiled patterns are kept. Every pattern the
// editor checks passes through compile, so the cache is bounded.
const cacheSize = 512

type compiled struct {
	re  *regexp2.Regexp
	err error
}

// patterns caches compiled patterns by source, least recently used first
// out. Compilation is deterministic, so the cache does not change any result.
var patterns = mustCache(cacheSize)

func mustCache(size int) *lru.Cache[string, compiled] {
	c, err := lru.New[string, compiled](size)
	if err != nil {
		panic(err)
	}
	return c
}

func compile(pattern string) (*regexp2.Regexp, error) {
	if c, ok := patterns.Get(pattern); ok {
		return c.re, c.err
	}

	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		err = fmt.Errorf("%w: %q: %v", ErrMalformedPattern, pattern, err)
	} else {
		re.MatchTimeout = matchTimeout
	}
	patterns.Add(pattern, compiled{re: re, err: err})
	return re, err
}

// Match reports whether pattern matches anywhere in url. A pattern that does
// not compile (or times out) never matches; the returned error wraps
// ErrMalformedPattern.
func Match(url, pattern string) (bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(url)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrMalformedPattern, pattern, err)
	}
	return ok, nil
}

// Valid returns nil if pattern compiles.
func Valid(pattern string) error {
	_, err := compile(pattern)
	return err
}

// ShouldSuppress reports whether any rule matches url. It stops at the first
// match; malformed rules are skipped.
func ShouldSuppress(url string, list []Rule) bool {
	for _, r := range list {
		if ok, _ := Match(url, r.Pattern); ok {
			return true
		}
	}
	return false
}

// InvalidRule is a rule whose pattern failed to compile.
type InvalidRule struct {
	Rule Rule
	Err  error
}

// Verdict is the full evaluation of a rule list against one URL.
type Verdict struct {
	Suppress bool
	Matched  []Rule
	Invalid  []InvalidRule
}

// Evaluate checks every rule against url. Unlike ShouldSuppress it does not
// stop early, so callers can show every matching and every invalid rule.
func Evaluate(url string, list []Rule) Verdict {
	var v Verdict
	for _, r := range list {
		ok, err := Match(url, r.Pattern)
		if err != nil {
			v.Invalid = append(v.Invalid, InvalidRule{Rule: r, Err: err})
			continue
		}
		if ok {
			v.Matched = append(v.Matched, r)
		}
	}
	v.Suppress = len(v.Matched) > 0
	return v
}
