package qopt

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// filterNode is the wire form of one filter tree node. Exactly one of
// member, literal, op, func or lambda selects the node type.
//
//	{"member": "Address/City"}
//	{"literal": "Paris"}
//	{"op": "eq", "left": {...}, "right": {...}}
//	{"op": "not", "operand": {...}}
//	{"func": "contains", "args": [{...}, {...}]}
//	{"lambda": "any", "source": "Tags", "var": "t", "predicate": {...}}
type filterNode struct {
	Member    string                   `mapstructure:"member"`
	Literal   interface{}              `mapstructure:"literal"`
	Op        string                   `mapstructure:"op"`
	Left      map[string]interface{}   `mapstructure:"left"`
	Right     map[string]interface{}   `mapstructure:"right"`
	Operand   map[string]interface{}   `mapstructure:"operand"`
	Func      string                   `mapstructure:"func"`
	Args      []map[string]interface{} `mapstructure:"args"`
	Lambda    string                   `mapstructure:"lambda"`
	Source    string                   `mapstructure:"source"`
	Var       string                   `mapstructure:"var"`
	Predicate map[string]interface{}   `mapstructure:"predicate"`
}

// DecodeFilter builds an expression tree from its JSON form, typically the
// result of decoding a request body into interface{}.
func DecodeFilter(v interface{}) (Expr, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("qopt: filter: expected an object, got %T", v)
	}
	return decodeNode(m)
}

func decodeNode(m map[string]interface{}) (Expr, error) {
	if m == nil {
		return nil, fmt.Errorf("qopt: filter: missing node")
	}

	var n filterNode
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &n,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("qopt: filter: %w", err)
	}

	if _, ok := m["literal"]; ok {
		return &Literal{Value: normalizeNumber(n.Literal)}, nil
	}

	switch {
	case n.Member != "":
		return NewMember(n.Member), nil

	case n.Lambda != "":
		return decodeLambda(n)

	case n.Func != "":
		call := &Call{Name: strings.ToLower(n.Func)}
		for _, a := range n.Args {
			ex, err := decodeNode(a)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, ex)
		}
		return call, nil

	case strings.EqualFold(n.Op, string(OpNot)):
		operand, err := decodeNode(n.Operand)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNot, Operand: operand}, nil

	case n.Op != "":
		op := BinaryOp(strings.ToLower(n.Op))
		switch op {
		case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpAnd, OpOr:
		default:
			return nil, fmt.Errorf("qopt: filter: unknown operator %q", n.Op)
		}
		left, err := decodeNode(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeNode(n.Right)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	}

	return nil, fmt.Errorf("qopt: filter: node has no type")
}

func decodeLambda(n filterNode) (Expr, error) {
	kind := LambdaKind(strings.ToLower(n.Lambda))
	if kind != LambdaAny && kind != LambdaAll {
		return nil, fmt.Errorf("qopt: filter: unknown lambda %q", n.Lambda)
	}
	if n.Source == "" {
		return nil, fmt.Errorf("qopt: filter: %s without source", kind)
	}
	if n.Var == "" && n.Predicate != nil {
		return nil, fmt.Errorf("qopt: filter: %s without variable", kind)
	}
	var pred Expr
	if n.Predicate != nil {
		var err error
		if pred, err = decodeNode(n.Predicate); err != nil {
			return nil, err
		}
	}
	return &Lambda{
		Kind:      kind,
		Source:    NewMember(n.Source),
		Var:       n.Var,
		Predicate: pred,
	}, nil
}

// normalizeNumber turns integral float64 values from JSON, and plain ints
// from YAML, into int64 so they compare as integers in MongoDB.
func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	case int:
		return int64(n)
	}
	return v
}

// Request is the JSON form of a full set of options.
type Request struct {
	Select  string                 `json:"select,omitempty"`
	OrderBy string                 `json:"orderby,omitempty"`
	Top     *int                   `json:"top,omitempty"`
	Skip    *int                   `json:"skip,omitempty"`
	Filter  map[string]interface{} `json:"filter,omitempty"`
}

// Options parses the request into Options.
func (r Request) Options() (Options, error) {
	var o Options
	var err error

	if o.Select, err = ParseSelect(r.Select); err != nil {
		return o, err
	}
	if o.OrderBy, err = ParseOrderBy(r.OrderBy); err != nil {
		return o, err
	}
	if r.Top != nil && *r.Top < 0 {
		return o, fmt.Errorf("qopt: $top: expected a non-negative integer, got %d", *r.Top)
	}
	if r.Skip != nil && *r.Skip < 0 {
		return o, fmt.Errorf("qopt: $skip: expected a non-negative integer, got %d", *r.Skip)
	}
	o.Top, o.Skip = r.Top, r.Skip

	if r.Filter != nil {
		if o.Filter, err = DecodeFilter(r.Filter); err != nil {
			return o, err
		}
	}
	return o, nil
}
