// Package data provides the MongoDB message repository.
package data

import (
	"context" // Used for cancellation and timeouts
	"fmt"     // Error wrapping

	"go.mongodb.org/mongo-driver/v2/bson"          // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo"         // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options" // FindOneAndUpdate options
)

// Sequence hands out monotonic int64 ids backed by the counters collection.
type Sequence struct {
	// coll is the "counters" collection; each document is one named sequence
	coll *mongo.Collection
	name string
}

// NewSequence returns the named sequence stored in coll.
func NewSequence(coll *mongo.Collection, name string) *Sequence {
	return &Sequence{coll: coll, name: name}
}

// Next increments the sequence and returns the new value. The first call
// on an empty collection returns 1.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	// $inc with upsert is atomic on the server, so concurrent callers
	// always receive distinct values
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c counter
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": s.name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", s.name, err)
	}
	return c.Value, nil
}

// Current returns the last value handed out, or 0 if none was.
func (s *Sequence) Current(ctx context.Context) (int64, error) {
	var c counter
	err := s.coll.FindOne(ctx, bson.M{"_id": s.name}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s sequence: %w", s.name, err)
	}
	return c.Value, nil
}
