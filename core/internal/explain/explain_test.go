package explain

import (
	"encoding/json"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func fromJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		kind    Kind
		summary string
	}{
		{
			name:    "index scan",
			doc:     `{"queryPlanner": {"winningPlan": {"stage": "IXSCAN"}}}`,
			kind:    KindIndexScan,
			summary: "IXSCAN",
		},
		{
			name:    "collection scan",
			doc:     `{"queryPlanner": {"winningPlan": {"stage": "COLLSCAN"}}}`,
			kind:    KindCollectionScan,
			summary: "COLLSCAN",
		},
		{
			name:    "fetch over index scan",
			doc:     `{"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStage": {"stage": "IXSCAN"}}}}`,
			kind:    KindFetchIndexScan,
			summary: "FETCH+IXSCAN",
		},
		{
			name:    "plain fetch",
			doc:     `{"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStage": {"stage": "TEXT_MATCH"}}}}`,
			kind:    KindFetch,
			summary: "FETCH",
		},
		{
			name: "or of index scans",
			doc: `{"queryPlanner": {"winningPlan": {"stage": "OR", "inputStages": [
				{"stage": "IXSCAN"}, {"stage": "IXSCAN"}]}}}`,
			kind:    KindIndexScan,
			summary: "OR(IXSCAN)",
		},
		{
			name: "fetch over or of index scans",
			doc: `{"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStage": {"stage": "OR", "inputStages": [
				{"stage": "IXSCAN"}, {"stage": "IXSCAN"}]}}}}`,
			kind:    KindFetchIndexScan,
			summary: "FETCH+IXSCAN",
		},
		{
			name: "fetch with several inputs",
			doc: `{"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStages": [
				{"stage": "IXSCAN"}, {"stage": "IXSCAN"}]}}}`,
			kind:    KindFetchIndexScan,
			summary: "FETCH+IXSCAN",
		},
		{
			name: "one collection scan branch",
			doc: `{"queryPlanner": {"winningPlan": {"stage": "SUBPLAN", "inputStage": {"stage": "OR", "inputStages": [
				{"stage": "FETCH", "inputStage": {"stage": "IXSCAN"}}, {"stage": "COLLSCAN"}]}}}}`,
			kind:    KindOther,
			summary: "SUBPLAN > OR(COLLSCAN)",
		},
		{
			name: "mixed branches take the first non index scan",
			doc: `{"queryPlanner": {"winningPlan": {"stage": "OR", "inputStages": [
				{"stage": "IXSCAN"}, {"stage": "FETCH", "inputStage": {"stage": "IXSCAN"}}]}}}`,
			kind:    KindFetchIndexScan,
			summary: "OR(FETCH+IXSCAN)",
		},
		{
			name:    "wrappers pass through",
			doc:     `{"queryPlanner": {"winningPlan": {"stage": "LIMIT", "inputStage": {"stage": "SORT", "inputStage": {"stage": "COLLSCAN"}}}}}`,
			kind:    KindOther,
			summary: "LIMIT > SORT > COLLSCAN",
		},
		{
			name: "aggregate cursor stage",
			doc: `{"stages": [
				{"$cursor": {"queryPlanner": {"winningPlan": {"stage": "FETCH", "inputStage": {"stage": "IXSCAN"}}}}},
				{"$group": {"_id": "$a"}}]}`,
			kind:    KindFetchIndexScan,
			summary: "FETCH+IXSCAN",
		},
		{
			name:    "slot based engine",
			doc:     `{"queryPlanner": {"winningPlan": {"queryPlan": {"stage": "COLLSCAN"}, "slotBasedPlan": {}}}}`,
			kind:    KindCollectionScan,
			summary: "COLLSCAN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify(fromJSON(t, tt.doc))
			if err != nil {
				t.Fatal(err)
			}
			if c.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", c.Kind, tt.kind)
			}
			if got := c.Summary(); got != tt.summary {
				t.Errorf("Summary() = %q, want %q", got, tt.summary)
			}
		})
	}
}

func TestClassifyNoPlan(t *testing.T) {
	docs := []interface{}{
		fromJSON(t, `{}`),
		fromJSON(t, `{"queryPlanner": {}}`),
		fromJSON(t, `{"stages": [{"$match": {}}]}`),
		fromJSON(t, `{"queryPlanner": {"winningPlan": {"inputStage": {"stage": "IXSCAN"}}}}`),
		"not a document",
		nil,
	}
	for i, d := range docs {
		if _, err := Classify(d); !errors.Is(err, ErrNoPlan) {
			t.Errorf("doc %d: error = %v, want ErrNoPlan", i, err)
		}
	}
}

func TestClassifyBSON(t *testing.T) {
	d := bson.D{
		{Key: "queryPlanner", Value: bson.D{
			{Key: "winningPlan", Value: bson.D{
				{Key: "stage", Value: "PROJECTION_SIMPLE"},
				{Key: "inputStage", Value: bson.M{
					"stage":      "FETCH",
					"inputStage": bson.M{"stage": "IXSCAN"},
				}},
			}},
		}},
	}

	c, err := Classify(d)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindOther || c.Stage != "PROJECTION_SIMPLE" {
		t.Errorf("got %v %q", c.Kind, c.Stage)
	}
	if u := c.Underlying(); u.Kind != KindFetchIndexScan {
		t.Errorf("Underlying().Kind = %v", u.Kind)
	}
	if !c.UsesIndex() {
		t.Error("UsesIndex() = false")
	}

	raw, err := bson.Marshal(bson.M{"stages": bson.A{
		bson.M{"$cursor": bson.M{"queryPlanner": bson.M{"winningPlan": bson.M{"stage": "COLLSCAN"}}}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	c, err = Classify(bson.Raw(raw))
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindCollectionScan || c.UsesIndex() {
		t.Errorf("got %v", c.Kind)
	}
}
