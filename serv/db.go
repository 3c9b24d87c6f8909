package serv

import (
	"context"
	"fmt"
	"time"

	"github.com/edmongo/edmongo/mongodriver"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	defaultConnectTimeout = 10 * time.Second
	initStoreRetries      = 3
)

// Store is the part of the database the service needs
type Store interface {
	Explain(ctx context.Context, collection string, pipeline mongo.Pipeline) (bson.M, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// initStore connects to MongoDB when a URI is configured
func (s *service) initStore() error {
	if s.store != nil {
		return nil
	}

	if s.conf.Mongo.URI == "" {
		s.log.Warn("no mongo.uri configured, the explain api is disabled")
		return nil
	}

	st, err := newStore(s.conf, s)
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

// newStore opens the database with a retry loop
func newStore(conf *Config, s *service) (*mongodriver.Conn, error) {
	timeout := conf.Mongo.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}

	var err error
	for i := 1; i <= initStoreRetries; i++ {
		var c *mongodriver.Conn

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		c, err = mongodriver.Open(ctx, conf.Mongo.URI, conf.Mongo.Database, timeout)
		cancel()

		if err == nil {
			s.log.Infof("connected to mongodb database: %s", conf.Mongo.Database)
			return c, nil
		}

		s.log.Warnf("database connection attempt %d failed: %s", i, err)
		time.Sleep(time.Duration(i) * time.Second)
	}
	return nil, fmt.Errorf("database: %w", err)
}

// pingTimeout bounds health check pings
func (s *service) pingTimeout() time.Duration {
	if t := s.conf.Mongo.ConnectTimeout; t > 0 {
		return t
	}
	return defaultConnectTimeout
}
