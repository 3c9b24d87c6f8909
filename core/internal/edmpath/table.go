package edmpath

import (
	"strings"

	"github.com/edmongo/edmongo/core/internal/mapping"
)

const (
	EdmSeparator   = "/"
	MongoSeparator = "."
)

// Entry is one compiled property: where a logical path lives in the
// document.
type Entry struct {
	EdmPath   string
	MongoPath string
	Key       bool
	Type      string

	// Circular is nil unless the property recurs on an anchor.
	Circular *mapping.CircularReference

	// MaxCircularLimitPerEdmPath overrides the default per-path unroll
	// limit when set.
	MaxCircularLimitPerEdmPath int
}

// Anchor returns the anchor path of an embedded circular reference.
func (e Entry) Anchor() (string, bool) {
	if e.Circular == nil || e.Circular.AnchorEdmPath == "" || !e.Circular.Strategy.IsEmbed() {
		return "", false
	}
	return e.Circular.AnchorEdmPath, true
}

// Depth is the number of segments in the physical path.
func (e Entry) Depth() int {
	return physicalDepth(e.MongoPath)
}

func (e Entry) clone() Entry {
	if e.Circular != nil {
		c := *e.Circular
		e.Circular = &c
	}
	return e
}

// Table is the compiled lookup table from logical to physical paths. It is
// never modified after Compile returns and is safe for concurrent use.
type Table struct {
	collection string
	entries    map[string]Entry
	keys       []string

	// inner holds non-leaf nodes left out of entries in leaves-only mode.
	// They stay available as anchors.
	inner map[string]Entry
}

func newTable(collection string) *Table {
	return &Table{
		collection: collection,
		entries:    make(map[string]Entry),
		inner:      make(map[string]Entry),
	}
}

func (t *Table) add(e Entry) {
	if _, ok := t.entries[e.EdmPath]; !ok {
		t.keys = append(t.keys, e.EdmPath)
	}
	t.entries[e.EdmPath] = e
}

// Collection is the collection the mapping targets.
func (t *Table) Collection() string {
	return t.collection
}

// Lookup returns the entry for an exact logical path.
func (t *Table) Lookup(edmPath string) (Entry, bool) {
	e, ok := t.entries[edmPath]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns the logical paths in compile order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.keys))
	copy(keys, t.keys)
	return keys
}

// Entries returns all entries in compile order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.entries[k].clone())
	}
	return out
}

// node finds an entry or a leaves-only inner node.
func (t *Table) node(edmPath string) (Entry, bool) {
	if e, ok := t.entries[edmPath]; ok {
		return e, true
	}
	e, ok := t.inner[edmPath]
	return e, ok
}

// longestPrefix returns the longest key that is a string prefix of path,
// excluding path itself.
func (t *Table) longestPrefix(path string) (Entry, bool) {
	for i := len(path) - 1; i > 0; i-- {
		if e, ok := t.entries[path[:i]]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

func physicalDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, MongoSeparator) + 1
}

func splitPhysical(p string) []string {
	p = strings.Trim(p, MongoSeparator)
	if p == "" {
		return nil
	}
	return strings.Split(p, MongoSeparator)
}

func joinPhysical(parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if sb.Len() != 0 {
			sb.WriteString(MongoSeparator)
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// trimPhysicalPrefix strips prefix from p on a segment boundary.
func trimPhysicalPrefix(p, prefix string) (string, bool) {
	switch {
	case prefix == "":
		return p, true
	case p == prefix:
		return "", true
	case strings.HasPrefix(p, prefix+MongoSeparator):
		return p[len(prefix)+1:], true
	}
	return "", false
}

// NormalizeEdmPath trims surrounding separators and whitespace.
func NormalizeEdmPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), EdmSeparator)
}
