// Package edmpath compiles an entity mapping into a table of logical to
// physical paths and resolves logical paths against it, including paths
// that only exist by unrolling a self-referencing type.
package edmpath

import (
	"fmt"
	"sort"

	"github.com/edmongo/edmongo/core/internal/mapping"
)

// CompileOptions tunes Compile.
type CompileOptions struct {
	// LeavesOnly skips entries for properties that have nested properties.
	LeavesOnly bool
}

type compiler struct {
	opts  CompileOptions
	table *Table
}

// Compile flattens the mapping tree into a Table and validates every
// declared circular anchor.
func Compile(e *mapping.Entity, opts CompileOptions) (*Table, error) {
	if e == nil {
		return nil, &Error{Kind: KindInvalidMapping, Detail: "mapping is nil"}
	}

	c := &compiler{
		opts:  opts,
		table: newTable(e.Collection),
	}

	base := splitPhysical(e.RootPath)
	if err := c.walk(e.Properties, "", base); err != nil {
		return nil, err
	}
	if err := c.validateAnchors(); err != nil {
		return nil, err
	}
	return c.table, nil
}

func (c *compiler) walk(props map[string]*mapping.Property, parent string, base []string) error {
	for _, name := range mapping.SortedNames(props) {
		p := props[name]
		if p == nil || p.Ignore {
			continue
		}

		edm := name
		if parent != "" {
			edm = parent + EdmSeparator + name
		}

		segs, err := physicalSegments(p, name, edm, base)
		if err != nil {
			return err
		}

		e := Entry{
			EdmPath:                    edm,
			MongoPath:                  joinPhysical(segs...),
			Key:                        p.Key,
			Type:                       p.Type,
			MaxCircularLimitPerEdmPath: p.MaxCircularLimitPerEdmPath,
		}
		if p.CircularReferenceMapping != nil {
			cr := *p.CircularReferenceMapping
			e.Circular = &cr
		}

		if p.IsLeaf() {
			c.table.add(e)
			continue
		}

		if err := c.walk(p.Properties, edm, segs); err != nil {
			return err
		}

		if c.opts.LeavesOnly {
			c.table.inner[edm] = e
		} else {
			c.table.add(e)
		}
	}
	return nil
}

// physicalSegments places a property below base. An absolute mongoPath wins,
// then flattenedLevelUp, then relativeTo.
func physicalSegments(p *mapping.Property, name, edm string, base []string) ([]string, error) {
	if p.MongoPath != "" {
		return splitPhysical(p.MongoPath), nil
	}

	local := splitPhysical(p.LocalName(name))
	if len(local) == 0 {
		return nil, &Error{
			Kind:    KindInvalidMapping,
			EdmPath: edm,
			Detail:  "empty mongo name",
		}
	}

	var segs []string

	switch {
	case p.FlattenedLevelUp > 0:
		n := p.FlattenedLevelUp
		if n > len(base) {
			return nil, &Error{
				Kind:    KindInvalidMapping,
				EdmPath: edm,
				Limit:   len(base),
				Detail: fmt.Sprintf("flattenedLevelUp %d exceeds the %d segments of base %q",
					n, len(base), joinPhysical(base...)),
			}
		}
		segs = make([]string, 0, len(base)-n+len(local))
		segs = append(segs, base[:len(base)-n]...)

	case p.RelativeTo != "":
		rel := splitPhysical(p.RelativeTo)
		segs = make([]string, 0, len(base)+len(rel)+len(local))
		segs = append(segs, base...)
		segs = append(segs, rel...)

	default:
		segs = make([]string, 0, len(base)+len(local))
		segs = append(segs, base...)
	}

	return append(segs, local...), nil
}

func (c *compiler) validateAnchors() error {
	t := c.table
	check := func(e Entry) error {
		// only embedded references need their anchor in the table
		if e.Circular == nil || !e.Circular.Strategy.IsEmbed() {
			return nil
		}
		if _, ok := t.node(e.Circular.AnchorEdmPath); !ok {
			return &Error{
				Kind:          KindInvalidAnchorPath,
				EdmPath:       e.EdmPath,
				AnchorEdmPath: e.Circular.AnchorEdmPath,
			}
		}
		return nil
	}

	for _, k := range t.keys {
		if err := check(t.entries[k]); err != nil {
			return err
		}
	}
	inner := make([]string, 0, len(t.inner))
	for k := range t.inner {
		inner = append(inner, k)
	}
	sort.Strings(inner)
	for _, k := range inner {
		if err := check(t.inner[k]); err != nil {
			return err
		}
	}
	return nil
}
