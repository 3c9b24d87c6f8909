package qopt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// ParseSelect parses a $select value. An empty value means the option is
// absent and returns nil.
func ParseSelect(s string) (*Select, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	sel := &Select{}
	for _, raw := range splitTop(s, ',') {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("qopt: $select: empty item in %q", s)
		}

		var item SelectItem
		for _, seg := range strings.Split(raw, "/") {
			seg = strings.TrimSpace(seg)
			switch {
			case seg == "":
				return nil, fmt.Errorf("qopt: $select: empty segment in %q", raw)
			case seg == "*" || strings.HasSuffix(seg, ".*"):
				item.Segments = append(item.Segments, Segment{Kind: SegmentWildcard, Name: seg})
			case strings.HasPrefix(seg, "@"):
				item.Segments = append(item.Segments, Segment{Kind: SegmentAnnotation, Name: seg})
			case strings.Contains(seg, "."):
				item.Segments = append(item.Segments, Segment{Kind: SegmentTypeCast, Name: seg})
			case isIdentifier(seg):
				item.Segments = append(item.Segments, Segment{Kind: SegmentProperty, Name: seg})
			default:
				return nil, fmt.Errorf("qopt: $select: invalid segment %q", seg)
			}
		}
		sel.Items = append(sel.Items, item)
	}
	return sel, nil
}

// ParseOrderBy parses a $orderby value such as "Name asc,Age desc".
// Function calls are kept as Call nodes; deciding whether they are
// supported is up to the consumer.
func ParseOrderBy(s string) (*OrderBy, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	ob := &OrderBy{}
	for _, raw := range splitTop(s, ',') {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("qopt: $orderby: empty item in %q", s)
		}

		var desc bool
		if i := strings.LastIndexFunc(raw, unicode.IsSpace); i > 0 && !strings.HasSuffix(raw, ")") {
			switch strings.ToLower(raw[i+1:]) {
			case "asc":
				raw = strings.TrimSpace(raw[:i])
			case "desc":
				desc = true
				raw = strings.TrimSpace(raw[:i])
			default:
				return nil, fmt.Errorf("qopt: $orderby: invalid direction %q", raw[i+1:])
			}
		}

		ex, err := parseSimpleExpr(raw)
		if err != nil {
			return nil, fmt.Errorf("qopt: $orderby: %w", err)
		}
		ob.Items = append(ob.Items, OrderByItem{Expr: ex, Desc: desc})
	}
	return ob, nil
}

// ParseCount parses $top or $skip.
func ParseCount(name, s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("qopt: %s: expected a non-negative integer, got %q", name, s)
	}
	return &n, nil
}

// FromValues reads the simple options from URL query values. $filter text
// is not parsed here.
func FromValues(v url.Values) (Options, error) {
	var o Options
	var err error

	if v.Get("$filter") != "" {
		return o, fmt.Errorf("qopt: $filter text is not parsed here, send a filter tree instead")
	}
	if o.Select, err = ParseSelect(v.Get("$select")); err != nil {
		return o, err
	}
	if o.OrderBy, err = ParseOrderBy(v.Get("$orderby")); err != nil {
		return o, err
	}
	if o.Top, err = ParseCount("$top", v.Get("$top")); err != nil {
		return o, err
	}
	if o.Skip, err = ParseCount("$skip", v.Get("$skip")); err != nil {
		return o, err
	}
	return o, nil
}

// parseSimpleExpr handles a member path or a call with member arguments.
func parseSimpleExpr(s string) (Expr, error) {
	if i := strings.IndexByte(s, '('); i > 0 && strings.HasSuffix(s, ")") {
		name := strings.TrimSpace(s[:i])
		if !isIdentifier(name) {
			return nil, fmt.Errorf("invalid function name %q", name)
		}
		call := &Call{Name: strings.ToLower(name)}
		if args := strings.TrimSpace(s[i+1 : len(s)-1]); args != "" {
			for _, a := range splitTop(args, ',') {
				ex, err := parseSimpleExpr(strings.TrimSpace(a))
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, ex)
			}
		}
		return call, nil
	}

	if lit, ok := parseLiteral(s); ok {
		return lit, nil
	}

	m := NewMember(s)
	if len(m.Path) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	for _, p := range m.Path {
		if !isIdentifier(p) {
			return nil, fmt.Errorf("invalid expression %q", s)
		}
	}
	return m, nil
}

func parseLiteral(s string) (*Literal, bool) {
	switch {
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return &Literal{Value: strings.ReplaceAll(s[1:len(s)-1], "''", "'")}, true
	case s == "true":
		return &Literal{Value: true}, true
	case s == "false":
		return &Literal{Value: false}, true
	case s == "null":
		return &Literal{}, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &Literal{Value: n}, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return &Literal{Value: f}, true
	}
	return nil, false
}

// splitTop splits s on sep outside of parentheses and quotes.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	quoted := false

	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
