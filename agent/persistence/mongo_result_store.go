package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// ttlIndexName names the index that lets MongoDB drop expired results.
const ttlIndexName = "expires_at_ttl"

// MongoResultStore keeps one document per task keyed by _id. The unique _id
// index decides the winner when replicas complete a task concurrently.
type MongoResultStore struct {
	coll      *mongo.Collection
	retention time.Duration
	now       func() time.Time
	closed    atomic.Bool
}

type resultDocument struct {
	TaskID  string `bson:"_id"`
	AgentID string `bson:"agent_id,omitempty"`
	Success bool   `bson:"success"`
	// Payload is the JSON encoding of the TaskResult.
	Payload   []byte    `bson:"payload"`
	StoredAt  time.Time `bson:"stored_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewMongoResultStore wraps a collection. The client is not closed by Close.
func NewMongoResultStore(coll *mongo.Collection, retention time.Duration) *MongoResultStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MongoResultStore{coll: coll, retention: retention, now: time.Now}
}

// EnsureIndexes creates the TTL index on expires_at. MongoDB reaps expired
// documents in the background, so Get also filters on expiry.
func (s *MongoResultStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName(ttlIndexName).SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create result ttl index: %w", err)
	}
	return nil
}

func (s *MongoResultStore) PutIfAbsent(ctx context.Context, result fleet.TaskResult) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if result.TaskID == "" {
		return ErrInvalidInput
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	now := s.now()
	_, err = s.coll.InsertOne(ctx, resultDocument{
		TaskID:    result.TaskID,
		AgentID:   result.AgentID,
		Success:   result.Success,
		Payload:   payload,
		StoredAt:  now,
		ExpiresAt: now.Add(s.retention),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (s *MongoResultStore) Get(ctx context.Context, taskID string) (fleet.TaskResult, error) {
	if s.closed.Load() {
		return fleet.TaskResult{}, ErrStoreClosed
	}

	var doc resultDocument
	err := s.coll.FindOne(ctx, bson.D{
		{Key: "_id", Value: taskID},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fleet.TaskResult{}, ErrNotFound
	}
	if err != nil {
		return fleet.TaskResult{}, fmt.Errorf("failed to get result: %w", err)
	}

	var result fleet.TaskResult
	if err := json.Unmarshal(doc.Payload, &result); err != nil {
		return fleet.TaskResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}

// Ping checks the server behind the collection.
func (s *MongoResultStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func (s *MongoResultStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ ResultStore = (*MongoResultStore)(nil)
