package core

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/edmongo/edmongo/core/internal/edmpath"
	"github.com/edmongo/edmongo/core/internal/explain"
	"github.com/edmongo/edmongo/core/internal/mapping"
	"github.com/edmongo/edmongo/core/internal/qopt"
	"github.com/edmongo/edmongo/core/internal/stages"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

type (
	Mapping           = mapping.Entity
	Property          = mapping.Property
	CircularReference = mapping.CircularReference
	PatchKind         = mapping.PatchKind

	Entry      = edmpath.Entry
	Resolution = edmpath.Resolution
	PathError  = edmpath.Error
	ErrorKind  = edmpath.ErrorKind

	QueryOptions = qopt.Options
	QueryRequest = qopt.Request
	ShapeError   = stages.ShapeError

	Classification = explain.Classification
	PlanKind       = explain.Kind
)

const (
	PatchJSON  = mapping.PatchJSON
	PatchMerge = mapping.PatchMerge
)

var (
	ErrInvalidLogicalPath          = edmpath.ErrInvalidLogicalPath
	ErrMaxPhysicalDepthExceeded    = edmpath.ErrMaxPhysicalDepthExceeded
	ErrPerAnchorCycleLimitExceeded = edmpath.ErrPerAnchorCycleLimitExceeded
	ErrTotalCycleLimitExceeded     = edmpath.ErrTotalCycleLimitExceeded
	ErrInvalidAnchorPath           = edmpath.ErrInvalidAnchorPath
	ErrInvalidMapping              = edmpath.ErrInvalidMapping
	ErrUnsupportedQueryShape       = stages.ErrUnsupportedQueryShape
	ErrNoPlan                      = explain.ErrNoPlan

	ErrUnknownEntity = errors.New("unknown entity")
)

// ParseMapping parses a YAML or JSON mapping document
func ParseMapping(data []byte) (*Mapping, error) {
	return mapping.Parse(data)
}

// ApplyPatch returns a patched copy of m
func ApplyPatch(m *Mapping, patch []byte, kind PatchKind) (*Mapping, error) {
	return mapping.ApplyPatch(m, patch, kind)
}

// ParseQuery reads $select, $orderby, $top and $skip from URL values
func ParseQuery(v url.Values) (QueryOptions, error) {
	return qopt.FromValues(v)
}

// Resolve returns the mongo path of a logical property path of an entity
func (g *Engine) Resolve(c context.Context, name, edmPath string) (res Resolution, err error) {
	e := g.load()

	_, span := e.spanStart(c, "Resolve Path")
	defer span.End()

	ent, err := e.entity(name)
	if err != nil {
		span.Error(err)
		return
	}

	res, err = ent.resolver.Resolve(edmPath, e.conf.searchConfig())
	if err != nil {
		span.Error(err)
		return
	}

	if span.IsRecording() {
		span.SetAttributesString(
			StringAttr{"entity", name},
			StringAttr{"edm.path", res.EdmPath},
			StringAttr{"mongo.path", res.MongoPath},
		)
	}
	return
}

// Pipeline is an aggregation pipeline for an entity's collection
type Pipeline struct {
	Entity     string         `json:"entity"`
	Collection string         `json:"collection"`
	Stages     mongo.Pipeline `json:"stages"`

	// Fields read by $match and $sort, useful for index advice
	UsedFields []string `json:"used_fields,omitempty"`

	// Fields kept by $project
	ProducedFields []string `json:"produced_fields,omitempty"`

	DocumentShapeChanged bool `json:"document_shape_changed"`
}

// BuildPipeline translates query options into aggregation stages. The
// stage order is $match, $sort, $skip, the $top limit and $project.
func (g *Engine) BuildPipeline(c context.Context, name string, opts QueryOptions) (*Pipeline, error) {
	e := g.load()

	_, span := e.spanStart(c, "Build Pipeline")
	defer span.End()

	ent, err := e.entity(name)
	if err != nil {
		span.Error(err)
		return nil, err
	}

	sc := e.conf.searchConfig()
	pr := stages.ResolverFunc(func(edmPath string) (string, error) {
		r, err := ent.resolver.Resolve(edmPath, sc)
		return r.MongoPath, err
	})

	res, err := stages.Build(opts, pr)
	if err != nil {
		span.Error(err)
		return nil, err
	}

	p := &Pipeline{
		Entity:               name,
		Collection:           ent.resolver.Collection(),
		Stages:               mongo.Pipeline(res.Stages),
		UsedFields:           res.UsedFields,
		ProducedFields:       res.ProducedFields,
		DocumentShapeChanged: res.DocumentShapeChanged,
	}
	if p.Stages == nil {
		p.Stages = mongo.Pipeline{}
	}

	if span.IsRecording() {
		span.SetAttributesString(
			StringAttr{"entity", name},
			StringAttr{"collection", p.Collection},
			StringAttr{"pipeline.stages", strconv.Itoa(len(p.Stages))},
		)
	}
	e.log.Debug("pipeline built",
		zap.String("entity", name),
		zap.Int("stages", len(p.Stages)),
		zap.Strings("used_fields", p.UsedFields))
	return p, nil
}

// Classify reports how the winning plan of an explain result finds
// documents
func (g *Engine) Classify(c context.Context, explanation interface{}) (Classification, error) {
	e := g.load()

	_, span := e.spanStart(c, "Classify Plan")
	defer span.End()

	cl, err := explain.Classify(explanation)
	if err != nil {
		span.Error(err)
		return cl, err
	}
	if span.IsRecording() {
		span.SetAttributesString(StringAttr{"plan.kind", cl.Kind.String()})
	}
	return cl, nil
}

// Classify is the engine independent form of Engine.Classify
func Classify(explanation interface{}) (Classification, error) {
	return explain.Classify(explanation)
}
