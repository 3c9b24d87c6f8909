// Package explain classifies the winning plan of a MongoDB explain result
// by how it reaches documents: through an index, a full collection scan or
// something else.
package explain

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNoPlan is returned when the explanation holds no usable winning plan.
var ErrNoPlan = errors.New("explain: no query plan found")

type Kind int

const (
	KindOther Kind = iota
	KindIndexScan
	KindFetchIndexScan
	KindCollectionScan
	KindFetch
)

func (k Kind) String() string {
	switch k {
	case KindIndexScan:
		return "index scan"
	case KindFetchIndexScan:
		return "fetch + index scan"
	case KindCollectionScan:
		return "collection scan"
	case KindFetch:
		return "fetch"
	}
	return "other"
}

// Plan stage names.
const (
	StageIndexScan      = "IXSCAN"
	StageCollectionScan = "COLLSCAN"
	StageFetch          = "FETCH"
)

// Classification is the classified plan tree.
type Classification struct {
	Kind Kind

	// Stage is the plan stage name of the node.
	Stage string

	Inputs []Classification
}

// UsesIndex reports whether documents are located through an index.
func (c Classification) UsesIndex() bool {
	k := c.Underlying().Kind
	return k == KindIndexScan || k == KindFetchIndexScan
}

// Underlying skips stages that only transform the documents of a single
// input, such as SORT or PROJECTION_SIMPLE, and returns the first stage
// that says how documents are found.
func (c Classification) Underlying() Classification {
	for c.Kind == KindOther && len(c.Inputs) == 1 {
		c = c.Inputs[0]
	}
	return c
}

// Summary is a one line description such as "LIMIT > FETCH+IXSCAN".
func (c Classification) Summary() string {
	var parts []string
	for {
		switch c.Kind {
		case KindOther:
			parts = append(parts, c.Stage)
		case KindFetchIndexScan:
			if c.Stage == StageFetch {
				parts = append(parts, StageFetch+"+"+StageIndexScan)
			} else {
				parts = append(parts, c.Stage+"(FETCH+IXSCAN)")
			}
			return strings.Join(parts, " > ")
		default:
			if c.Stage == kindStage(c.Kind) {
				parts = append(parts, c.Stage)
			} else {
				parts = append(parts, c.Stage+"("+kindStage(c.Kind)+")")
			}
			return strings.Join(parts, " > ")
		}
		if len(c.Inputs) != 1 {
			return strings.Join(parts, " > ")
		}
		c = c.Inputs[0]
	}
}

func kindStage(k Kind) string {
	switch k {
	case KindIndexScan:
		return StageIndexScan
	case KindCollectionScan:
		return StageCollectionScan
	case KindFetch:
		return StageFetch
	}
	return ""
}

// Classify finds the winning plan in an explain result and classifies it.
// The result may be a top level queryPlanner document or an aggregate
// explanation whose stages array holds a $cursor stage.
func Classify(explanation interface{}) (Classification, error) {
	root, ok := asDoc(explanation)
	if !ok {
		return Classification{}, fmt.Errorf("%w: explanation is a %T", ErrNoPlan, explanation)
	}

	planner, ok := findPlanner(root)
	if !ok {
		return Classification{}, ErrNoPlan
	}

	plan, ok := asDoc(planner["winningPlan"])
	if !ok {
		return Classification{}, fmt.Errorf("%w: queryPlanner has no winningPlan", ErrNoPlan)
	}
	// The slot based engine nests the classic tree under queryPlan.
	if qp, ok := asDoc(plan["queryPlan"]); ok {
		plan = qp
	}
	return classify(plan)
}

func findPlanner(root map[string]interface{}) (map[string]interface{}, bool) {
	if qp, ok := asDoc(root["queryPlanner"]); ok {
		return qp, true
	}

	stages, ok := asArray(root["stages"])
	if !ok {
		return nil, false
	}
	for _, s := range stages {
		sd, ok := asDoc(s)
		if !ok {
			continue
		}
		cursor, ok := asDoc(sd["$cursor"])
		if !ok {
			continue
		}
		if qp, ok := asDoc(cursor["queryPlanner"]); ok {
			return qp, true
		}
	}
	return nil, false
}

func classify(node map[string]interface{}) (Classification, error) {
	stage, _ := node["stage"].(string)
	if stage == "" {
		return Classification{}, fmt.Errorf("%w: plan node without a stage", ErrNoPlan)
	}
	c := Classification{Stage: stage}

	if in, ok := asDoc(node["inputStage"]); ok {
		child, err := classify(in)
		if err != nil {
			return Classification{}, err
		}
		c.Inputs = []Classification{child}
	}
	if ins, ok := asArray(node["inputStages"]); ok {
		for _, v := range ins {
			in, ok := asDoc(v)
			if !ok {
				return Classification{}, fmt.Errorf("%w: %s has a malformed input stage", ErrNoPlan, stage)
			}
			child, err := classify(in)
			if err != nil {
				return Classification{}, err
			}
			c.Inputs = append(c.Inputs, child)
		}
	}

	switch {
	case stage == StageIndexScan:
		c.Kind = KindIndexScan

	case stage == StageCollectionScan:
		c.Kind = KindCollectionScan

	case len(c.Inputs) > 1:
		c.Kind = combine(c.Inputs)
		if c.Kind == KindIndexScan && stage == StageFetch {
			c.Kind = KindFetchIndexScan
		}

	case stage == StageFetch:
		c.Kind = KindFetch
		if len(c.Inputs) == 1 && c.Inputs[0].Kind == KindIndexScan {
			c.Kind = KindFetchIndexScan
		}

	default:
		c.Kind = KindOther
	}
	return c, nil
}

// combine merges the branches of a multi input stage. One collection scan
// makes the whole a collection scan.
func combine(inputs []Classification) Kind {
	for _, in := range inputs {
		if in.Kind == KindCollectionScan {
			return KindCollectionScan
		}
	}
	for _, in := range inputs {
		if in.Kind != KindIndexScan {
			return in.Kind
		}
	}
	return KindIndexScan
}

func asDoc(v interface{}) (map[string]interface{}, bool) {
	switch d := v.(type) {
	case map[string]interface{}:
		return d, true
	case bson.M:
		return d, true
	case bson.D:
		m := make(map[string]interface{}, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	case bson.Raw:
		var m bson.M
		if err := bson.Unmarshal(d, &m); err != nil {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case []interface{}:
		return a, true
	case bson.A:
		return a, true
	case []bson.D:
		out := make([]interface{}, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	case []bson.M:
		out := make([]interface{}, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	case []map[string]interface{}:
		out := make([]interface{}, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	}
	return nil, false
}
