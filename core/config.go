package core

import (
	"fmt"

	"github.com/edmongo/edmongo/core/internal/edmpath"
	"github.com/edmongo/edmongo/core/internal/mapping"
)

// Configuration for the path resolution engine
type Config struct {
	// The entity mappings to load. Each mapping is read from its file and
	// then patched in the listed order
	Mappings []MappingConfig `mapstructure:"mappings" json:"mappings" yaml:"mappings" jsonschema:"title=Entity Mappings"`

	// Maximum number of segments in a resolved mongo path. Zero means no limit
	MongoPathMaxDepth int `mapstructure:"mongo_path_max_depth" json:"mongo_path_max_depth" yaml:"mongo_path_max_depth" jsonschema:"title=Mongo Path Max Depth"`

	// Default number of times a single circular property can be unrolled
	// while resolving one path. A property can lower it with its own
	// maxCircularLimitPerEdmPath. Zero means no limit
	MaxCircularLimitPerEdmPath int `mapstructure:"max_circular_limit_per_edm_path" json:"max_circular_limit_per_edm_path" yaml:"max_circular_limit_per_edm_path" jsonschema:"title=Circular Limit Per Path"`

	// Maximum number of circular unrolls of all properties together while
	// resolving one path. Zero means no limit
	MaxCircularLimitForAllEdmPaths int `mapstructure:"max_circular_limit_for_all_edm_paths" json:"max_circular_limit_for_all_edm_paths" yaml:"max_circular_limit_for_all_edm_paths" jsonschema:"title=Total Circular Limit"`

	// Only compile entries for leaf properties
	LeavesOnly bool `mapstructure:"leaves_only" json:"leaves_only" yaml:"leaves_only" jsonschema:"title=Leaves Only,default=false"`

	// Number of compiled mapping tables to keep around. Defaults to 100
	CacheSize int `mapstructure:"cache_size" json:"cache_size" yaml:"cache_size" jsonschema:"title=Compiled Table Cache Size,default=100"`

	// Recompile mappings when their files change
	WatchMappings bool `mapstructure:"watch_mappings" json:"watch_mappings" yaml:"watch_mappings" jsonschema:"title=Watch Mapping Files,default=false"`
}

// Configuration for a single entity mapping
type MappingConfig struct {
	// Name the entity is addressed by
	Name string `mapstructure:"name" json:"name" yaml:"name" jsonschema:"title=Entity Name"`

	// Mapping document, YAML or JSON
	File string `mapstructure:"file" json:"file" yaml:"file" jsonschema:"title=Mapping File"`

	Patches []PatchConfig `mapstructure:"patches" json:"patches,omitempty" yaml:"patches,omitempty" jsonschema:"title=Patches"`
}

// Configuration for a patch applied on top of a mapping
type PatchConfig struct {
	File string `mapstructure:"file" json:"file" yaml:"file" jsonschema:"title=Patch File"`

	// Either json-patch or merge-patch
	Kind string `mapstructure:"kind" json:"kind" yaml:"kind" jsonschema:"title=Patch Kind,enum=json-patch,enum=merge-patch"`
}

const defaultCacheSize = 100

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	limits := []struct {
		name string
		val  int
	}{
		{"mongo_path_max_depth", c.MongoPathMaxDepth},
		{"max_circular_limit_per_edm_path", c.MaxCircularLimitPerEdmPath},
		{"max_circular_limit_for_all_edm_paths", c.MaxCircularLimitForAllEdmPaths},
		{"cache_size", c.CacheSize},
	}
	for _, l := range limits {
		if l.val < 0 {
			return fmt.Errorf("config: %s must not be negative: %d", l.name, l.val)
		}
	}

	seen := make(map[string]struct{}, len(c.Mappings))
	for i, m := range c.Mappings {
		if m.Name == "" {
			return fmt.Errorf("config: mappings[%d]: name is required", i)
		}
		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("config: duplicate mapping: %s", m.Name)
		}
		seen[m.Name] = struct{}{}

		if m.File == "" {
			return fmt.Errorf("config: mapping %s: file is required", m.Name)
		}
		if _, err := m.patchFiles(); err != nil {
			return fmt.Errorf("config: mapping %s: %w", m.Name, err)
		}
	}
	return nil
}

func (m MappingConfig) patchFiles() ([]mapping.PatchFile, error) {
	if len(m.Patches) == 0 {
		return nil, nil
	}
	files := make([]mapping.PatchFile, 0, len(m.Patches))
	for _, p := range m.Patches {
		if p.File == "" {
			return nil, fmt.Errorf("patch file is required")
		}
		kind, err := mapping.ParsePatchKind(p.Kind)
		if err != nil {
			return nil, err
		}
		files = append(files, mapping.PatchFile{Path: p.File, Kind: kind})
	}
	return files, nil
}

// files returns every file the mapping is built from.
func (m MappingConfig) files() []string {
	out := []string{m.File}
	for _, p := range m.Patches {
		out = append(out, p.File)
	}
	return out
}

func (c *Config) searchConfig() edmpath.SearchConfig {
	return edmpath.SearchConfig{
		MongoPathMaxDepth:              c.MongoPathMaxDepth,
		MaxCircularLimitPerEdmPath:     c.MaxCircularLimitPerEdmPath,
		MaxCircularLimitForAllEdmPaths: c.MaxCircularLimitForAllEdmPaths,
	}
}
