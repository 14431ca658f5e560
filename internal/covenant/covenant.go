// Package covenant decides whether a set of action tags is permitted.
//
// A covenant is expressed as a deny set: any tag in the set disqualifies
// the action regardless of trust.
package covenant

import (
	"sort"
	"strings"
)

// DefaultDenyTags is the out-of-box deny set.
var DefaultDenyTags = []string{"forbid"}

// DenySet is an immutable set of normalized forbidden tags.
// The zero value denies nothing.
type DenySet struct {
	tags map[string]struct{}
}

// NewDenySet builds a deny set. Tags are trimmed and lower-cased; empty
// tags are dropped.
func NewDenySet(tags ...string) DenySet {
	m := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if n := Normalize(t); n != "" {
			m[n] = struct{}{}
		}
	}
	return DenySet{tags: m}
}

// Default returns the deny set {"forbid"}.
func Default() DenySet {
	return NewDenySet(DefaultDenyTags...)
}

// Normalize is the canonical tag form used for comparison.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// InCovenant reports whether none of tags is in the deny set. An empty tag
// list is always in covenant.
func (d DenySet) InCovenant(tags []string) bool {
	for _, t := range tags {
		if _, ok := d.tags[Normalize(t)]; ok {
			return false
		}
	}
	return true
}

// Matched returns the sorted, de-duplicated deny tags present in tags.
func (d DenySet) Matched(tags []string) []string {
	seen := map[string]struct{}{}
	for _, t := range tags {
		n := Normalize(t)
		if _, ok := d.tags[n]; ok {
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tags returns the deny set contents, sorted.
func (d DenySet) Tags() []string {
	out := make([]string, 0, len(d.tags))
	for t := range d.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len is the number of tags in the set.
func (d DenySet) Len() int { return len(d.tags) }

// ParseTags splits a comma-separated list, as used by DENY_TAGS, into
// normalized non-empty tags.
func ParseTags(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if n := Normalize(part); n != "" {
			out = append(out, n)
		}
	}
	return out
}
