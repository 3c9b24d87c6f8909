// Package mapping holds the entity-to-document mapping model: a tree of
// logical (EDM) properties annotated with where each one lives in a stored
// document.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy names how a self-referencing complex type is stored.
type Strategy string

// StrategyEmbedLimited is the only supported strategy: the recurring type is
// embedded inside itself, up to a bounded depth.
const StrategyEmbedLimited Strategy = "EMBED_LIMITED"

// IsEmbed reports whether the strategy embeds the recurring type. An empty
// strategy defaults to embedding.
func (s Strategy) IsEmbed() bool {
	return s == "" || strings.EqualFold(string(s), string(StrategyEmbedLimited))
}

// CircularReference marks a property whose type recurs on an earlier
// occurrence of itself, found at AnchorEdmPath.
type CircularReference struct {
	Strategy      Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	AnchorEdmPath string   `json:"anchorEdmPath,omitempty" yaml:"anchorEdmPath,omitempty"`

	// MaxDepth is carried along for tooling; resolution limits come from
	// the search configuration and MaxCircularLimitPerEdmPath.
	MaxDepth int `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
}

// Property is a node of the mapping tree. Its name is the key under which
// it is stored in the parent's Properties.
type Property struct {
	Key bool `json:"key,omitempty" yaml:"key,omitempty"`

	// MongoPath is an absolute document path that overrides every other
	// placement rule.
	MongoPath string `json:"mongoPath,omitempty" yaml:"mongoPath,omitempty"`

	// MongoName renames the property in the document.
	MongoName string `json:"mongoName,omitempty" yaml:"mongoName,omitempty"`

	// RelativeTo re-anchors this subtree below the current base.
	RelativeTo string `json:"relativeTo,omitempty" yaml:"relativeTo,omitempty"`

	// FlattenedLevelUp strips this many trailing segments off the current
	// base before the property name is appended.
	FlattenedLevelUp int `json:"flattenedLevelUp,omitempty" yaml:"flattenedLevelUp,omitempty"`

	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Ignore   bool   `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Computed bool   `json:"computed,omitempty" yaml:"computed,omitempty"`

	// MaxCircularLimitPerEdmPath overrides the default number of times this
	// property may be unrolled in one resolution. Zero means not set.
	MaxCircularLimitPerEdmPath int `json:"maxCircularLimitPerEdmPath,omitempty" yaml:"maxCircularLimitPerEdmPath,omitempty"`

	CircularReferenceMapping *CircularReference `json:"circularReferenceMapping,omitempty" yaml:"circularReferenceMapping,omitempty"`

	Properties map[string]*Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// IsLeaf reports whether the property has no nested properties.
func (p *Property) IsLeaf() bool {
	return len(p.Properties) == 0
}

// LocalName is the name the property takes inside its parent document.
func (p *Property) LocalName(name string) string {
	if p.MongoName != "" {
		return p.MongoName
	}
	return name
}

// Entity maps one entity set onto a collection.
type Entity struct {
	Collection string               `json:"collection" yaml:"collection"`
	RootPath   string               `json:"rootPath,omitempty" yaml:"rootPath,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

var errNoCollection = errors.New("mapping: collection is required")

// Parse decodes a mapping document. YAML and JSON are both accepted.
func Parse(data []byte) (*Entity, error) {
	var e Entity
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("mapping: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the parts of a mapping that do not depend on compilation.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Collection) == "" {
		return errNoCollection
	}
	return validateProps("", e.Properties)
}

func validateProps(parent string, props map[string]*Property) error {
	for _, name := range SortedNames(props) {
		p := props[name]
		path := name
		if parent != "" {
			path = parent + "/" + name
		}
		if p == nil {
			return fmt.Errorf("mapping: property %q is empty", path)
		}
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("mapping: invalid property name %q under %q", name, parent)
		}
		if p.FlattenedLevelUp < 0 {
			return fmt.Errorf("mapping: property %q: flattenedLevelUp must not be negative", path)
		}
		if p.MaxCircularLimitPerEdmPath < 0 {
			return fmt.Errorf("mapping: property %q: maxCircularLimitPerEdmPath must not be negative", path)
		}
		if c := p.CircularReferenceMapping; c != nil && !c.Strategy.IsEmbed() {
			return fmt.Errorf("mapping: property %q: unsupported circular reference strategy %q", path, c.Strategy)
		}
		if err := validateProps(path, p.Properties); err != nil {
			return err
		}
	}
	return nil
}

// SortedNames returns the property names in a stable order.
func SortedNames(props map[string]*Property) []string {
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the mapping.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		Collection: e.Collection,
		RootPath:   e.RootPath,
		Properties: cloneProps(e.Properties),
	}
}

func cloneProps(props map[string]*Property) map[string]*Property {
	if props == nil {
		return nil
	}
	out := make(map[string]*Property, len(props))
	for name, p := range props {
		if p == nil {
			out[name] = nil
			continue
		}
		c := *p
		if p.CircularReferenceMapping != nil {
			cr := *p.CircularReferenceMapping
			c.CircularReferenceMapping = &cr
		}
		c.Properties = cloneProps(p.Properties)
		out[name] = &c
	}
	return out
}
