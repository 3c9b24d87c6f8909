// Package qopt holds parsed OData system query options. Full expression
// parsing belongs to the OData parser; this package defines the tree it hands
// over and parses only the simple options.
package qopt

import (
	"strings"
)

// Expr is a node of a parsed expression.
type Expr interface {
	expr()
}

// Member is a property path such as Address/City.
type Member struct {
	Path []string
}

// NewMember builds a member from a slash separated path.
func NewMember(path string) *Member {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return &Member{}
	}
	return &Member{Path: strings.Split(path, "/")}
}

// EdmPath is the slash separated logical path.
func (m *Member) EdmPath() string {
	return strings.Join(m.Path, "/")
}

// Literal is a constant: string, bool, number or nil.
type Literal struct {
	Value interface{}
}

type BinaryOp string

const (
	OpEq  BinaryOp = "eq"
	OpNe  BinaryOp = "ne"
	OpGt  BinaryOp = "gt"
	OpGe  BinaryOp = "ge"
	OpLt  BinaryOp = "lt"
	OpLe  BinaryOp = "le"
	OpAnd BinaryOp = "and"
	OpOr  BinaryOp = "or"
)

// IsLogical reports whether op combines boolean sub-expressions.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

type UnaryOp string

const OpNot UnaryOp = "not"

type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Call is a function call such as contains(Name,'x').
type Call struct {
	Name string
	Args []Expr
}

type LambdaKind string

const (
	LambdaAny LambdaKind = "any"
	LambdaAll LambdaKind = "all"
)

// Lambda is an any/all expression over a collection valued member. Inside
// Predicate, members whose first segment is Var refer to the element.
type Lambda struct {
	Kind      LambdaKind
	Source    *Member
	Var       string
	Predicate Expr
}

func (*Member) expr()  {}
func (*Literal) expr() {}
func (*Binary) expr()  {}
func (*Unary) expr()   {}
func (*Call) expr()    {}
func (*Lambda) expr()  {}

type SegmentKind int

const (
	SegmentProperty SegmentKind = iota
	SegmentWildcard
	SegmentTypeCast
	SegmentAnnotation
)

type Segment struct {
	Kind SegmentKind
	Name string
}

// SelectItem is one comma separated entry of $select.
type SelectItem struct {
	Segments []Segment
}

// IsWildcard reports whether the item selects everything.
func (si SelectItem) IsWildcard() bool {
	for _, s := range si.Segments {
		if s.Kind == SegmentWildcard {
			return true
		}
	}
	return false
}

// EdmPath joins the segment names.
func (si SelectItem) EdmPath() string {
	names := make([]string, len(si.Segments))
	for i, s := range si.Segments {
		names[i] = s.Name
	}
	return strings.Join(names, "/")
}

type Select struct {
	Items []SelectItem
}

type OrderByItem struct {
	Expr Expr
	Desc bool
}

type OrderBy struct {
	Items []OrderByItem
}

// Options is the set of system query options of one request. Nil fields
// were not given.
type Options struct {
	Select  *Select
	OrderBy *OrderBy
	Top     *int
	Skip    *int
	Filter  Expr
}
