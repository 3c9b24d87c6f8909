// Package stages turns parsed query options into aggregation pipeline
// stages. Builders are pure: they read the options and resolve field names
// through a PathResolver, nothing else.
package stages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edmongo/edmongo/core/internal/qopt"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrUnsupportedQueryShape matches every *ShapeError.
var ErrUnsupportedQueryShape = errors.New("unsupported query shape")

// ShapeError reports a query option construct no builder can translate.
type ShapeError struct {
	Option string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unsupported query shape in %s: %s", e.Option, e.Detail)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrUnsupportedQueryShape
}

func shapeErr(option, format string, args ...interface{}) error {
	return &ShapeError{Option: option, Detail: fmt.Sprintf(format, args...)}
}

// PathResolver maps a logical path to its physical field path.
type PathResolver interface {
	MongoPath(edmPath string) (string, error)
}

// ResolverFunc adapts a function to PathResolver.
type ResolverFunc func(edmPath string) (string, error)

func (f ResolverFunc) MongoPath(edmPath string) (string, error) {
	return f(edmPath)
}

// Result is the output of a builder.
type Result struct {
	Stages []bson.D

	// UsedFields are the physical fields the stages read to filter or
	// order documents, in first use order.
	UsedFields []string

	// ProducedFields are the physical fields the stages write.
	ProducedFields []string

	DocumentShapeChanged bool
}

// Merge appends other's stages after r's and unions the field lists.
func (r Result) Merge(other Result) Result {
	out := Result{DocumentShapeChanged: r.DocumentShapeChanged || other.DocumentShapeChanged}
	if n := len(r.Stages) + len(other.Stages); n > 0 {
		out.Stages = make([]bson.D, 0, n)
		out.Stages = append(out.Stages, r.Stages...)
		out.Stages = append(out.Stages, other.Stages...)
	}

	var used, produced fieldSet
	used.add(r.UsedFields...)
	used.add(other.UsedFields...)
	produced.add(r.ProducedFields...)
	produced.add(other.ProducedFields...)
	out.UsedFields = used.list
	out.ProducedFields = produced.list
	return out
}

// Build assembles the stages for o in pipeline order: filter, sort, skip,
// top and finally the projection.
func Build(o qopt.Options, pr PathResolver) (Result, error) {
	var res Result

	f, err := Filter(o.Filter, pr)
	if err != nil {
		return Result{}, err
	}
	res = res.Merge(f)

	ob, err := OrderBy(o.OrderBy, pr)
	if err != nil {
		return Result{}, err
	}
	res = res.Merge(ob)

	res = res.Merge(Skip(o.Skip))
	res = res.Merge(Top(o.Top))

	sel, err := Select(o.Select, pr)
	if err != nil {
		return Result{}, err
	}
	return res.Merge(sel), nil
}

// Select builds an inclusion projection. An absent $select or one holding a
// wildcard keeps every field and yields no stage.
func Select(sel *qopt.Select, pr PathResolver) (Result, error) {
	if sel == nil || len(sel.Items) == 0 {
		return Result{}, nil
	}
	wildcard := false
	for _, item := range sel.Items {
		for _, seg := range item.Segments {
			switch seg.Kind {
			case qopt.SegmentProperty:
			case qopt.SegmentWildcard:
				wildcard = true
			default:
				return Result{}, shapeErr("$select", "%q is not a property path", item.EdmPath())
			}
		}
	}
	if wildcard {
		return Result{}, nil
	}

	var fields fieldSet
	for _, item := range sel.Items {
		mp, err := pr.MongoPath(item.EdmPath())
		if err != nil {
			return Result{}, err
		}
		fields.add(mp)
	}

	paths := collapseNested(fields.list)
	proj := make(bson.D, 0, len(paths))
	for _, p := range paths {
		proj = append(proj, bson.E{Key: p, Value: 1})
	}

	return Result{
		Stages:               []bson.D{{{Key: "$project", Value: proj}}},
		ProducedFields:       paths,
		DocumentShapeChanged: true,
	}, nil
}

// OrderBy builds one $sort stage. Only plain property paths can be sorted
// on.
func OrderBy(ob *qopt.OrderBy, pr PathResolver) (Result, error) {
	if ob == nil || len(ob.Items) == 0 {
		return Result{}, nil
	}

	var fields fieldSet
	sort := make(bson.D, 0, len(ob.Items))

	for _, item := range ob.Items {
		m, ok := item.Expr.(*qopt.Member)
		if !ok {
			return Result{}, shapeErr("$orderby", "expected a property path, got %s", describe(item.Expr))
		}
		mp, err := pr.MongoPath(m.EdmPath())
		if err != nil {
			return Result{}, err
		}
		if !fields.add(mp) {
			continue
		}
		dir := 1
		if item.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: mp, Value: dir})
	}

	return Result{
		Stages:     []bson.D{{{Key: "$sort", Value: sort}}},
		UsedFields: fields.list,
	}, nil
}

// Top limits the result. MongoDB rejects $limit 0, so a zero top becomes a
// match that no document passes.
func Top(n *int) Result {
	switch {
	case n == nil:
		return Result{}
	case *n == 0:
		return Result{Stages: []bson.D{matchNone()}}
	default:
		return Result{Stages: []bson.D{{{Key: "$limit", Value: int64(*n)}}}}
	}
}

// Skip skips the first n documents.
func Skip(n *int) Result {
	if n == nil {
		return Result{}
	}
	return Result{Stages: []bson.D{{{Key: "$skip", Value: int64(*n)}}}}
}

func matchNone() bson.D {
	return bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: false}}}}
}

// collapseNested drops paths covered by an ancestor in the list. MongoDB
// rejects a projection holding both a.b and a.b.c.
func collapseNested(paths []string) []string {
	out := make([]string, 0, len(paths))
	for i, p := range paths {
		covered := false
		for j, q := range paths {
			if i != j && strings.HasPrefix(p, q+".") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

type fieldSet struct {
	list []string
	seen map[string]struct{}
}

// add records fields in first seen order and reports whether the last one
// was new.
func (s *fieldSet) add(fields ...string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	added := false
	for _, f := range fields {
		if _, ok := s.seen[f]; ok {
			added = false
			continue
		}
		s.seen[f] = struct{}{}
		s.list = append(s.list, f)
		added = true
	}
	return added
}

func describe(ex qopt.Expr) string {
	switch v := ex.(type) {
	case *qopt.Member:
		return fmt.Sprintf("property %q", v.EdmPath())
	case *qopt.Literal:
		return fmt.Sprintf("literal %v", v.Value)
	case *qopt.Call:
		return fmt.Sprintf("function %s()", v.Name)
	case *qopt.Binary:
		return fmt.Sprintf("operator %s", v.Op)
	case *qopt.Unary:
		return fmt.Sprintf("operator %s", v.Op)
	case *qopt.Lambda:
		return fmt.Sprintf("lambda %s", v.Kind)
	case nil:
		return "nothing"
	}
	return fmt.Sprintf("%T", ex)
}
