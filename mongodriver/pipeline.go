package mongodriver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Aggregate runs pipeline on collection and returns every document.
func (c *Conn) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	if collection == "" {
		return nil, fmt.Errorf("mongodriver: aggregate requires collection")
	}

	cursor, err := c.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate: %w", err)
	}

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		cursor.Close(ctx) //nolint:errcheck
		return nil, fmt.Errorf("mongodriver: aggregate results: %w", err)
	}
	cursor.Close(ctx) //nolint:errcheck

	if results == nil {
		results = []bson.M{}
	}
	return results, nil
}

// Explain asks the query planner how it would run pipeline without
// running it.
func (c *Conn) Explain(ctx context.Context, collection string, pipeline mongo.Pipeline) (bson.M, error) {
	if collection == "" {
		return nil, fmt.Errorf("mongodriver: explain requires collection")
	}

	var out bson.M
	res := c.db.RunCommand(ctx, explainCommand(collection, pipeline))
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("mongodriver: explain: %w", err)
	}
	return out, nil
}

func explainCommand(collection string, pipeline mongo.Pipeline) bson.D {
	stages := bson.A{}
	for _, s := range pipeline {
		stages = append(stages, s)
	}
	return bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "aggregate", Value: collection},
			{Key: "pipeline", Value: stages},
			{Key: "cursor", Value: bson.D{}},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	}
}
