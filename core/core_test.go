package core

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const categoryYAML = `
collection: categories
rootPath: doc
properties:
  id:
    key: true
    mongoPath: _id
  name: {}
  parent:
    properties:
      name: {}
      parent:
        circularReferenceMapping:
          strategy: EMBED_LIMITED
          anchorEdmPath: parent
`

const renamePatch = `[{"op": "add", "path": "/properties/name/mongoName", "value": "title"}]`

func newTestFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "mappings/category.yml", []byte(categoryYAML), 0o644))
	require.NoError(t, afero.WriteFile(fs, "mappings/rename.json", []byte(renamePatch), 0o644))
	return fs
}

func newTestEngine(t *testing.T, conf *Config) *Engine {
	t.Helper()
	if conf.Mappings == nil {
		conf.Mappings = []MappingConfig{{
			Name:    "Category",
			File:    "mappings/category.yml",
			Patches: []PatchConfig{{File: "mappings/rename.json", Kind: "json-patch"}},
		}}
	}
	g, err := NewEngine(conf, OptionSetFS(newTestFS(t)))
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestEngineResolve(t *testing.T) {
	g := newTestEngine(t, &Config{})
	ctx := context.Background()

	assert.Equal(t, []string{"Category"}, g.Entities())

	coll, err := g.Collection("Category")
	require.NoError(t, err)
	assert.Equal(t, "categories", coll)

	tests := []struct {
		path    string
		want    string
		unrolls int
	}{
		{"id", "_id", 0},
		{"name", "doc.title", 0},
		{"parent/name", "doc.parent.name", 0},
		{"parent/parent/name", "doc.parent.parent.name", 1},
		{"parent/parent/parent/name", "doc.parent.parent.parent.name", 2},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := g.Resolve(ctx, "Category", tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.MongoPath)
			assert.Equal(t, tt.unrolls, res.Unrolls)
		})
	}

	_, err = g.Resolve(ctx, "Product", "name")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = g.Resolve(ctx, "Category", "colour")
	assert.ErrorIs(t, err, ErrInvalidLogicalPath)
}

func TestEngineLimits(t *testing.T) {
	ctx := context.Background()

	g := newTestEngine(t, &Config{MaxCircularLimitPerEdmPath: 1})
	_, err := g.Resolve(ctx, "Category", "parent/parent/parent/name")
	assert.ErrorIs(t, err, ErrPerAnchorCycleLimitExceeded)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Limit)

	g = newTestEngine(t, &Config{MongoPathMaxDepth: 3})
	_, err = g.Resolve(ctx, "Category", "parent/parent/name")
	assert.ErrorIs(t, err, ErrMaxPhysicalDepthExceeded)
}

func TestEngineBuildPipeline(t *testing.T) {
	g := newTestEngine(t, &Config{})

	var req QueryRequest
	req.Select = "name,parent/name"
	req.OrderBy = "name desc"
	top := 0
	req.Top = &top
	req.Filter = map[string]interface{}{
		"op":    "eq",
		"left":  map[string]interface{}{"member": "parent/parent/name"},
		"right": map[string]interface{}{"literal": "root"},
	}

	opts, err := req.Options()
	require.NoError(t, err)

	p, err := g.BuildPipeline(context.Background(), "Category", opts)
	require.NoError(t, err)

	want := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "doc.parent.parent.name", Value: bson.D{{Key: "$eq", Value: "root"}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "doc.title", Value: -1}}}},
		{{Key: "$match", Value: bson.D{{Key: "$expr", Value: false}}}},
		{{Key: "$project", Value: bson.D{{Key: "doc.title", Value: 1}, {Key: "doc.parent.name", Value: 1}}}},
	}
	assert.Equal(t, want, p.Stages)
	assert.Equal(t, "categories", p.Collection)
	assert.Equal(t, []string{"doc.parent.parent.name", "doc.title"}, p.UsedFields)
	assert.Equal(t, []string{"doc.title", "doc.parent.name"}, p.ProducedFields)
	assert.True(t, p.DocumentShapeChanged)
}

func TestEngineBuildPipelineEmpty(t *testing.T) {
	g := newTestEngine(t, &Config{})

	p, err := g.BuildPipeline(context.Background(), "Category", QueryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, p.Stages)
	assert.Empty(t, p.Stages)
	assert.False(t, p.DocumentShapeChanged)
}

func TestEngineBuildPipelineErrors(t *testing.T) {
	g := newTestEngine(t, &Config{})
	ctx := context.Background()

	ob, err := ParseQuery(map[string][]string{"$orderby": {"tolower(name)"}})
	require.NoError(t, err)
	_, err = g.BuildPipeline(ctx, "Category", ob)
	assert.ErrorIs(t, err, ErrUnsupportedQueryShape)

	sel, err := ParseQuery(map[string][]string{"$select": {"missing"}})
	require.NoError(t, err)
	_, err = g.BuildPipeline(ctx, "Category", sel)
	assert.ErrorIs(t, err, ErrInvalidLogicalPath)
}

func TestEngineInlineMapping(t *testing.T) {
	m, err := ParseMapping([]byte(categoryYAML))
	require.NoError(t, err)

	g, err := NewEngine(&Config{}, OptionAddMapping("Inline", m))
	require.NoError(t, err)
	defer g.Close()

	res, err := g.Resolve(context.Background(), "Inline", "name")
	require.NoError(t, err)
	assert.Equal(t, "doc.name", res.MongoPath)

	_, err = NewEngine(&Config{}, OptionAddMapping("Inline", m), OptionAddMapping("Inline", m))
	assert.Error(t, err)
}

func TestEngineCompileErrors(t *testing.T) {
	fs := newTestFS(t)
	bad := `
collection: c
properties:
  a:
    circularReferenceMapping:
      strategy: EMBED_LIMITED
      anchorEdmPath: nowhere
`
	require.NoError(t, afero.WriteFile(fs, "mappings/bad.yml", []byte(bad), 0o644))

	_, err := NewEngine(&Config{Mappings: []MappingConfig{{Name: "Bad", File: "mappings/bad.yml"}}}, OptionSetFS(fs))
	assert.ErrorIs(t, err, ErrInvalidAnchorPath)

	_, err = NewEngine(&Config{Mappings: []MappingConfig{{Name: "Gone", File: "mappings/gone.yml"}}}, OptionSetFS(fs))
	assert.Error(t, err)
}

func TestEngineReload(t *testing.T) {
	fs := newTestFS(t)
	conf := &Config{Mappings: []MappingConfig{{Name: "Category", File: "mappings/category.yml"}}}

	g, err := NewEngine(conf, OptionSetFS(fs))
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	res, err := g.Resolve(ctx, "Category", "name")
	require.NoError(t, err)
	assert.Equal(t, "doc.name", res.MongoPath)

	updated := []byte("collection: categories\nrootPath: v2\nproperties:\n  name: {}\n")
	require.NoError(t, afero.WriteFile(fs, "mappings/category.yml", updated, 0o644))
	require.NoError(t, g.Reload())

	res, err = g.Resolve(ctx, "Category", "name")
	require.NoError(t, err)
	assert.Equal(t, "v2.name", res.MongoPath)

	// a broken file keeps the last good mappings
	require.NoError(t, afero.WriteFile(fs, "mappings/category.yml", []byte("properties: {}"), 0o644))
	assert.Error(t, g.Reload())

	res, err = g.Resolve(ctx, "Category", "name")
	require.NoError(t, err)
	assert.Equal(t, "v2.name", res.MongoPath)
}

func TestEngineClassify(t *testing.T) {
	g := newTestEngine(t, &Config{})

	doc := bson.M{"queryPlanner": bson.M{"winningPlan": bson.M{
		"stage":      "FETCH",
		"inputStage": bson.M{"stage": "IXSCAN"},
	}}}
	cl, err := g.Classify(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, cl.UsesIndex())
	assert.Equal(t, "fetch + index scan", cl.Kind.String())

	_, err = Classify(bson.M{})
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestCacheReusesTables(t *testing.T) {
	fs := newTestFS(t)
	conf := &Config{Mappings: []MappingConfig{
		{Name: "A", File: "mappings/category.yml"},
		{Name: "B", File: "mappings/category.yml"},
	}}

	g, err := NewEngine(conf, OptionSetFS(fs))
	require.NoError(t, err)
	defer g.Close()

	e := g.load()
	assert.Equal(t, e.entities["A"].hash, e.entities["B"].hash)
	assert.Same(t, e.entities["A"].resolver.Table(), e.entities["B"].resolver.Table())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"negative depth", Config{MongoPathMaxDepth: -1}, true},
		{"negative total", Config{MaxCircularLimitForAllEdmPaths: -2}, true},
		{"missing name", Config{Mappings: []MappingConfig{{File: "a.yml"}}}, true},
		{"missing file", Config{Mappings: []MappingConfig{{Name: "A"}}}, true},
		{"duplicate", Config{Mappings: []MappingConfig{{Name: "A", File: "a.yml"}, {Name: "A", File: "b.yml"}}}, true},
		{"bad patch kind", Config{Mappings: []MappingConfig{{
			Name: "A", File: "a.yml", Patches: []PatchConfig{{File: "p.json", Kind: "xml"}},
		}}}, true},
		{"merge patch", Config{Mappings: []MappingConfig{{
			Name: "A", File: "a.yml", Patches: []PatchConfig{{File: "p.yml", Kind: "merge-patch"}},
		}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
