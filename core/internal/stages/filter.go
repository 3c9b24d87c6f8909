package stages

import (
	"regexp"
	"strings"

	"github.com/edmongo/edmongo/core/internal/qopt"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// stringFuncs maps OData string functions to the regular expression that
// implements them. It is filled once and only read afterwards.
var stringFuncs = map[string]func(s string) string{
	"contains":   func(s string) string { return regexp.QuoteMeta(s) },
	"startswith": func(s string) string { return "^" + regexp.QuoteMeta(s) },
	"endswith":   func(s string) string { return regexp.QuoteMeta(s) + "$" },
}

var comparisonOps = map[qopt.BinaryOp]string{
	qopt.OpEq: "$eq",
	qopt.OpNe: "$ne",
	qopt.OpGt: "$gt",
	qopt.OpGe: "$gte",
	qopt.OpLt: "$lt",
	qopt.OpLe: "$lte",
}

// mirrored is the operator that keeps the meaning when operands swap sides.
var mirrored = map[qopt.BinaryOp]qopt.BinaryOp{
	qopt.OpEq: qopt.OpEq,
	qopt.OpNe: qopt.OpNe,
	qopt.OpGt: qopt.OpLt,
	qopt.OpGe: qopt.OpLe,
	qopt.OpLt: qopt.OpGt,
	qopt.OpLe: qopt.OpGe,
}

// Filter translates a filter tree into a single $match stage. Filtering
// never changes the document shape, so no fields are produced.
func Filter(ex qopt.Expr, pr PathResolver) (Result, error) {
	if ex == nil {
		return Result{}, nil
	}

	c := &filterCtx{pr: pr, vars: map[string]lambdaScope{}, used: &fieldSet{}}
	doc, err := c.match(ex)
	if err != nil {
		return Result{}, err
	}
	if isOperatorDoc(doc) {
		return Result{}, shapeErr("$filter", "predicate has no field")
	}

	return Result{
		Stages:     []bson.D{{{Key: "$match", Value: doc}}},
		UsedFields: c.used.list,
	}, nil
}

type lambdaScope struct {
	edmPath   string
	mongoPath string
}

type filterCtx struct {
	pr   PathResolver
	vars map[string]lambdaScope

	// prefix is the physical path of the array element being matched
	// inside $elemMatch. Field names are relative to it.
	prefix string
	used   *fieldSet
}

func (c *filterCtx) match(ex qopt.Expr) (bson.D, error) {
	switch v := ex.(type) {
	case *qopt.Binary:
		if v.Op.IsLogical() {
			return c.logical(v)
		}
		return c.comparison(v)

	case *qopt.Unary:
		inner, err := c.match(v.Operand)
		if err != nil {
			return nil, err
		}
		if isOperatorDoc(inner) {
			return bson.D{{Key: "$not", Value: inner}}, nil
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, nil

	case *qopt.Member:
		field, err := c.field(v)
		if err != nil {
			return nil, err
		}
		return cond(field, bson.D{{Key: "$eq", Value: true}}), nil

	case *qopt.Literal:
		b, ok := v.Value.(bool)
		if !ok {
			return nil, shapeErr("$filter", "literal %v is not a boolean", v.Value)
		}
		return bson.D{{Key: "$expr", Value: b}}, nil

	case *qopt.Call:
		return c.call(v)

	case *qopt.Lambda:
		return c.lambda(v)
	}
	return nil, shapeErr("$filter", "cannot translate %s", describe(ex))
}

func (c *filterCtx) logical(v *qopt.Binary) (bson.D, error) {
	op := "$and"
	if v.Op == qopt.OpOr {
		op = "$or"
	}

	var parts bson.A
	for _, side := range []qopt.Expr{v.Left, v.Right} {
		d, err := c.match(side)
		if err != nil {
			return nil, err
		}
		if isOperatorDoc(d) {
			return nil, shapeErr("$filter", "%s over the lambda element itself", v.Op)
		}
		// Flatten a and (b and c) into one list.
		if len(d) == 1 && d[0].Key == op {
			if nested, ok := d[0].Value.(bson.A); ok {
				parts = append(parts, nested...)
				continue
			}
		}
		parts = append(parts, d)
	}
	return bson.D{{Key: op, Value: parts}}, nil
}

func (c *filterCtx) comparison(v *qopt.Binary) (bson.D, error) {
	op := v.Op
	member, lit := asMember(v.Left), asLiteral(v.Right)
	if member == nil || lit == nil {
		member, lit = asMember(v.Right), asLiteral(v.Left)
		op = mirrored[op]
	}
	if member == nil || lit == nil {
		return nil, shapeErr("$filter", "%s needs a property and a literal, got %s and %s",
			v.Op, describe(v.Left), describe(v.Right))
	}

	field, err := c.field(member)
	if err != nil {
		return nil, err
	}
	return cond(field, bson.D{{Key: comparisonOps[op], Value: lit.Value}}), nil
}

func (c *filterCtx) call(v *qopt.Call) (bson.D, error) {
	pattern, ok := stringFuncs[v.Name]
	if !ok {
		return nil, shapeErr("$filter", "function %s() is not supported", v.Name)
	}
	if len(v.Args) != 2 {
		return nil, shapeErr("$filter", "%s() takes 2 arguments, got %d", v.Name, len(v.Args))
	}

	member, lit := asMember(v.Args[0]), asLiteral(v.Args[1])
	if member == nil || lit == nil {
		return nil, shapeErr("$filter", "%s() needs a property and a string literal", v.Name)
	}
	s, ok := lit.Value.(string)
	if !ok {
		return nil, shapeErr("$filter", "%s() needs a string literal, got %v", v.Name, lit.Value)
	}

	field, err := c.field(member)
	if err != nil {
		return nil, err
	}
	return cond(field, bson.D{{Key: "$regex", Value: pattern(s)}}), nil
}

func (c *filterCtx) lambda(v *qopt.Lambda) (bson.D, error) {
	if v.Source == nil {
		return nil, shapeErr("$filter", "%s without a source", v.Kind)
	}

	edm, abs, err := c.resolve(v.Source)
	if err != nil {
		return nil, err
	}
	c.used.add(abs)
	field, err := c.relative(abs, v.Source)
	if err != nil {
		return nil, err
	}

	if v.Predicate == nil {
		if v.Kind == qopt.LambdaAll {
			return bson.D{{Key: "$expr", Value: true}}, nil
		}
		return cond(field, bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: bson.A{}}}), nil
	}

	inner := &filterCtx{
		pr:     c.pr,
		vars:   make(map[string]lambdaScope, len(c.vars)+1),
		prefix: abs,
		used:   c.used,
	}
	for k, s := range c.vars {
		inner.vars[k] = s
	}
	inner.vars[v.Var] = lambdaScope{edmPath: edm, mongoPath: abs}

	pred, err := inner.match(v.Predicate)
	if err != nil {
		return nil, err
	}

	if v.Kind == qopt.LambdaAny {
		return cond(field, bson.D{{Key: "$elemMatch", Value: pred}}), nil
	}

	// all(p) holds when no element fails p.
	neg := bson.D{{Key: "$nor", Value: bson.A{pred}}}
	if isOperatorDoc(pred) {
		neg = bson.D{{Key: "$not", Value: pred}}
	}
	return cond(field, bson.D{{Key: "$not", Value: bson.D{{Key: "$elemMatch", Value: neg}}}}), nil
}

// resolve returns the logical and physical path of m, expanding a leading
// lambda variable.
func (c *filterCtx) resolve(m *qopt.Member) (string, string, error) {
	if len(m.Path) == 0 {
		return "", "", shapeErr("$filter", "empty property path")
	}

	if s, ok := c.vars[m.Path[0]]; ok {
		if len(m.Path) == 1 {
			return s.edmPath, s.mongoPath, nil
		}
		edm := s.edmPath + "/" + strings.Join(m.Path[1:], "/")
		mp, err := c.pr.MongoPath(edm)
		return edm, mp, err
	}

	edm := m.EdmPath()
	mp, err := c.pr.MongoPath(edm)
	return edm, mp, err
}

// field resolves m and returns its name relative to the element being
// matched. An empty name is the element itself.
func (c *filterCtx) field(m *qopt.Member) (string, error) {
	_, abs, err := c.resolve(m)
	if err != nil {
		return "", err
	}
	c.used.add(abs)
	return c.relative(abs, m)
}

func (c *filterCtx) relative(abs string, m *qopt.Member) (string, error) {
	switch {
	case c.prefix == "":
		return abs, nil
	case abs == c.prefix:
		return "", nil
	case strings.HasPrefix(abs, c.prefix+"."):
		return abs[len(c.prefix)+1:], nil
	}
	return "", shapeErr("$filter", "property %q is outside the lambda element", m.EdmPath())
}

// cond wraps an operator document in a field condition. An empty field is
// the array element itself, which $elemMatch takes as bare operators.
func cond(field string, ops bson.D) bson.D {
	if field == "" {
		return ops
	}
	return bson.D{{Key: field, Value: ops}}
}

// isOperatorDoc reports whether d is a bare operator document such as
// {$gt: 1} rather than a query.
func isOperatorDoc(d bson.D) bool {
	if len(d) == 0 || !strings.HasPrefix(d[0].Key, "$") {
		return false
	}
	switch d[0].Key {
	case "$and", "$or", "$nor", "$expr":
		return false
	}
	return true
}

func asMember(ex qopt.Expr) *qopt.Member {
	m, _ := ex.(*qopt.Member)
	return m
}

func asLiteral(ex qopt.Expr) *qopt.Literal {
	l, _ := ex.(*qopt.Literal)
	return l
}
