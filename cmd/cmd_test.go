package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/serv"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const personYAML = `
collection: people
rootPath: doc
properties:
  Name: {mongoName: name}
  Age: {mongoName: age}
  Tags:
    properties:
      Label: {mongoName: label}
`

// useConfig points the CLI at a mapping written to a temp dir
func useConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "person.yml"), []byte(personYAML), 0o644))

	origConf, origLog := conf, log
	t.Cleanup(func() { conf, log = origConf, origLog })

	log = zap.NewNop().Sugar()
	conf = &serv.Config{}
	conf.ConfigPath = dir
	conf.Mappings = []core.MappingConfig{{Name: "Person", File: "person.yml"}}
	conf.ResolvePaths()
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	c := rootCmd()
	c.SetOut(&out)
	c.SetArgs(args)
	require.NoError(t, c.Execute())
	return out.String()
}

func TestQueryFlags(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "filter.yml", []byte(`
op: gt
left: {member: Age}
right: {literal: 30}
`), 0o644))

	qf := queryFlags{sel: "Name", orderBy: "Age desc", top: 5, skip: -1, filterFile: "filter.yml"}
	opts, err := qf.options(fs)
	require.NoError(t, err)

	require.NotNil(t, opts.Top)
	assert.Equal(t, 5, *opts.Top)
	assert.Nil(t, opts.Skip)
	assert.NotNil(t, opts.Select)
	require.NotNil(t, opts.OrderBy)
	assert.Len(t, opts.OrderBy.Items, 1)
	assert.NotNil(t, opts.Filter)

	qf = queryFlags{top: -1, skip: -1, filterFile: "missing.yml"}
	_, err = qf.options(fs)
	assert.Error(t, err)

	qf = queryFlags{top: -1, skip: -1, orderBy: "Age sideways"}
	_, err = qf.options(fs)
	assert.Error(t, err)
}

func TestPipelineCommand(t *testing.T) {
	useConfig(t)

	out := run(t, "pipeline", "Person", "--select", "Name", "--orderby", "Age desc", "--top", "2")

	var p struct {
		Collection     string                   `json:"collection"`
		Stages         []map[string]interface{} `json:"stages"`
		UsedFields     []string                 `json:"used_fields"`
		ProducedFields []string                 `json:"produced_fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))

	assert.Equal(t, "people", p.Collection)
	assert.Equal(t, []map[string]interface{}{
		{"$sort": map[string]interface{}{"doc.age": float64(-1)}},
		{"$limit": float64(2)},
		{"$project": map[string]interface{}{"doc.name": float64(1)}},
	}, p.Stages)
	assert.Equal(t, []string{"doc.age"}, p.UsedFields)
	assert.Equal(t, []string{"doc.name"}, p.ProducedFields)
}

func TestResolveCommand(t *testing.T) {
	useConfig(t)

	assert.Equal(t, "doc.Tags.label\n", run(t, "resolve", "Person", "Tags/Label"))

	out := run(t, "resolve", "Person", "Name", "--json")
	assert.Contains(t, out, `"mongo_path": "doc.name"`)
	assert.Contains(t, out, `"unrolls": 0`)
}

func TestEntitiesCommand(t *testing.T) {
	useConfig(t)

	out := run(t, "entities")
	assert.Equal(t, "Person", strings.Fields(out)[0])
	assert.Equal(t, "people", strings.Fields(out)[1])
}

func TestClassifyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "plain.json", []byte(`{
		"queryPlanner": {"winningPlan": {"stage": "SORT", "inputStage": {"stage": "COLLSCAN"}}}
	}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "ext.json", []byte(`{
		"ok": {"$numberDouble": "1.0"},
		"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStage": {"stage": "IXSCAN", "keyPattern": {"age": {"$numberInt": "1"}}}}}
	}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "broken.json", []byte(`{"queryPlanner":`), 0o644))

	cl, err := classifyFile(fs, "plain.json")
	require.NoError(t, err)
	assert.Equal(t, "SORT > COLLSCAN", cl.Summary())
	assert.False(t, cl.UsesIndex())

	cl, err = classifyFile(fs, "ext.json")
	require.NoError(t, err)
	assert.True(t, cl.UsesIndex())

	var buf bytes.Buffer
	printPlan(&buf, cl)
	assert.Equal(t, "plan:        FETCH+IXSCAN\nkind:        fetch + index scan\nuses index:  true\n", buf.String())

	_, err = classifyFile(fs, "broken.json")
	assert.Error(t, err)

	_, err = classifyFile(fs, "missing.json")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	assert.Contains(t, run(t, "version"), "edmongo")

	orig := version
	t.Cleanup(func() { version = orig })
	version = "v1.2.3"
	assert.Contains(t, BuildDetails(), "edmongo v1.2.3")
}

func TestNewLoggerWithOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithOutput(true, zapcore.AddSync(&buf))
	l.Info("hello")
	require.NoError(t, l.Sync())
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
