package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/spf13/afero"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"
	"gopkg.in/yaml.v3"
)

// PatchKind selects how a patch document is applied to a mapping.
type PatchKind string

const (
	PatchJSON  PatchKind = "json-patch"
	PatchMerge PatchKind = "merge-patch"
)

// ParsePatchKind accepts the canonical names and the RFC media-type style
// aliases.
func ParsePatchKind(s string) (PatchKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json-patch", "jsonpatch", "json", "rfc6902":
		return PatchJSON, nil
	case "merge-patch", "mergepatch", "merge", "rfc7386":
		return PatchMerge, nil
	}
	return "", fmt.Errorf("mapping: unknown patch kind %q", s)
}

// ApplyPatch applies a patch document to a copy of m. The input mapping is
// never modified. The patch may be JSON or YAML.
func ApplyPatch(m *Entity, patch []byte, kind PatchKind) (*Entity, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mapping: encode: %w", err)
	}

	pj, err := toJSON(patch)
	if err != nil {
		return nil, fmt.Errorf("mapping: patch: %w", err)
	}

	var out []byte
	switch kind {
	case PatchJSON:
		p, err := jsonpatch.DecodePatch(pj)
		if err != nil {
			return nil, fmt.Errorf("mapping: decode json-patch: %w", err)
		}
		if out, err = p.Apply(doc); err != nil {
			return nil, fmt.Errorf("mapping: apply json-patch: %w", err)
		}
	case PatchMerge:
		if out, err = jsonpatch.MergePatch(doc, pj); err != nil {
			return nil, fmt.Errorf("mapping: apply merge-patch: %w", err)
		}
	default:
		return nil, fmt.Errorf("mapping: unknown patch kind %q", kind)
	}

	var res Entity
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("mapping: decode patched mapping: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// toJSON converts a YAML document into JSON; JSON input is returned as is.
func toJSON(data []byte) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Load reads and parses a mapping document from fs.
func Load(fs afero.Fs, path string) (*Entity, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// LoadPatched loads the mapping at path and applies each patch file in order.
func LoadPatched(fs afero.Fs, path string, patches []PatchFile) (*Entity, error) {
	e, err := Load(fs, path)
	if err != nil {
		return nil, err
	}
	for _, pf := range patches {
		data, err := afero.ReadFile(fs, pf.Path)
		if err != nil {
			return nil, fmt.Errorf("mapping: read patch %s: %w", pf.Path, err)
		}
		if e, err = ApplyPatch(e, data, pf.Kind); err != nil {
			return nil, fmt.Errorf("%s: %w", pf.Path, err)
		}
	}
	return e, nil
}

// PatchFile names a patch document on disk.
type PatchFile struct {
	Path string
	Kind PatchKind
}

// Hash returns a content hash of the mapping and the compile mode. Two
// mappings with the same hash compile to the same table.
func Hash(e *Entity, leavesOnly bool) (uint64, error) {
	v := struct {
		Entity     *Entity
		LeavesOnly bool
	}{e, leavesOnly}
	return hashstructure.Hash(v, hashstructure.FormatV2, nil)
}
