// Package mongo provides a MongoDB implementation of cache.Store.
//
// Expiry uses a TTL index on the expires_at field. The TTL monitor only
// runs periodically, so reads additionally filter out expired documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/avatar/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// document is the stored cache entry.
type document struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// Store implements cache.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and TTL index.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collection, and TTL index.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)

	// Expire documents as soon as expires_at passes.
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: mongoopts.Index().SetExpireAfterSeconds(0),
	}
	if _, err := s.collection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("create ttl index: %w", err)
	}

	s.logger.Info("connected to MongoDB",
		"database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for disconnecting the Mongo client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// notExpiredFilter matches documents that have no expiry or expire later
// than now.
func notExpiredFilter() bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "expires_at", Value: nil}},
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: time.Now().UTC()}}}},
	}}}
}

// Get returns the value for key if present and not expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return "", false, cache.ErrNotConnected
	}
	if key == "" {
		return "", false, cache.ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.D{{Key: "_id", Value: key}, {Key: "$and", Value: bson.A{notExpiredFilter()}}}

	var doc document
	err := s.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mongo get: %w", err)
	}
	return doc.Value, true, nil
}

// GetMany returns present, non-expired entries for the given keys.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, cache.ErrNotConnected
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}},
		{Key: "$and", Value: bson.A{notExpiredFilter()}},
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo get many: %w", err)
	}
	defer cursor.Close(ctx)

	result := make(map[string]string, len(keys))
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode: %w", err)
		}
		result[doc.Key] = doc.Value
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return result, nil
}

// Set upserts the entry. A non-positive TTL stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := document{Key: key, Value: value}
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		doc.ExpiresAt = &t
	}

	opts := mongoopts.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, opts); err != nil {
		return fmt.Errorf("mongo set: %w", err)
	}
	return nil
}
