// Package persistence stores TaskResults with first-write-wins semantics, so
// a task can never complete twice.
//
// Supported backends:
// - Memory: single node, results bounded by retention
// - Redis: shared across engine replicas (SET NX with TTL)
// - MongoDB: shared across replicas (unique _id, TTL index)
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeMongo  StoreType = "mongo"
)

// DefaultRetention is how long results stay readable after completion.
const DefaultRetention = 24 * time.Hour

// ResultStore holds at most one TaskResult per task id.
type ResultStore interface {
	// PutIfAbsent stores result unless one already exists for its task id,
	// in which case it returns ErrAlreadyExists and leaves the first intact.
	PutIfAbsent(ctx context.Context, result fleet.TaskResult) error

	// Get returns the stored result or ErrNotFound.
	Get(ctx context.Context, taskID string) (fleet.TaskResult, error)

	Close() error
}
