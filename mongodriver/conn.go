// Package mongodriver runs pipelines built by the engine against MongoDB.
package mongodriver

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Conn is a handle on one database.
type Conn struct {
	db     *mongo.Database
	client *mongo.Client
	owned  bool
}

// Open connects to uri and checks the server is reachable.
func Open(ctx context.Context, uri, database string, timeout time.Duration) (*Conn, error) {
	if database == "" {
		return nil, fmt.Errorf("mongodriver: database name is required")
	}

	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout)
		opts.SetServerSelectionTimeout(timeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: connect: %w", err)
	}

	c := &Conn{db: client.Database(database), client: client, owned: true}
	if err := c.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return c, nil
}

// NewConn wraps an existing client. Close leaves the client connected.
func NewConn(client *mongo.Client, database string) *Conn {
	return &Conn{db: client.Database(database), client: client}
}

// Database returns the database name.
func (c *Conn) Database() string {
	return c.db.Name()
}

// Ping checks the primary is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodriver: ping: %w", err)
	}
	return nil
}

// Close disconnects the client if Open created it.
func (c *Conn) Close(ctx context.Context) error {
	if !c.owned {
		return nil
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongodriver: disconnect: %w", err)
	}
	return nil
}
