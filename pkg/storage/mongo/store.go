// Package mongo runs aggregation pipelines on a MongoDB database.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Store is an aggregation engine backed by one database
type Store struct {
	client *driver.Client
	db     *driver.Database
	logger *zap.Logger
}

// Connect opens a client for uri and selects database. The connection is
// verified with a ping before returning.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName("pipewright").
		SetServerSelectionTimeout(10 * time.Second)
	client, err := driver.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redact(uri), err)
	}

	s := New(client, database, logger)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to aggregation engine",
		zap.String("uri", redact(uri)),
		zap.String("database", database))
	return s, nil
}

// New wraps an existing client
func New(client *driver.Client, database string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}
}

// Aggregate runs pipeline on collection and decodes every resulting
// document. The cursor is drained before returning.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("aggregate on %q failed: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read aggregation results from %q: %w", collection, err)
	}
	s.logger.Debug("Aggregation completed",
		zap.String("collection", collection),
		zap.Int("documents", len(docs)))
	return docs, nil
}

// Ping checks the primary is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// redact drops credentials from a connection string before logging it
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
