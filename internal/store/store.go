// Package store is the document-store collaboration boundary. Every other
// package in the core (internal/inode, internal/extent, internal/blockstore)
// programs against the narrow Collection interface here rather than the
// concrete MongoDB driver, the way the teacher programs the filesystem core
// against gcs.Bucket rather than the concrete GCS client. That keeps the
// three tightly coupled subsystems testable with an in-memory fake
// (internal/store/storetest) instead of a live mongod.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNoDocuments is returned by Cursor.Decode when a FindOne query
// matched nothing. Callers translate this to errs.NotFound.
var ErrNoDocuments = errors.New("store: no documents matched")

// FindOptions narrows a Find/FindOne query. Only the pieces the core
// actually issues are modeled: a field projection, a sort order, and a
// result limit.
type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Limit      int64
}

// UpdateOptions narrows an UpdateOne call. ArrayFilters are passed to
// the driver for "$[<identifier>]" updates; the core does not set them
// (rename's dirent rewrite uses the plain positional "$" operator).
type UpdateOptions struct {
	ArrayFilters []bson.M
}

// Cursor iterates the results of a Find call.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// UpdateResult reports how many documents an update touched.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// Collection is the subset of *mongo.Collection the core depends on. A
// non-OK response from any method is surfaced to the caller as-is; it is
// the caller's job (internal/errs) to turn it into errs.IO. The one
// exception is the MongoDB-backed InsertOne, which reports a duplicate
// _id as an errs.Exists error. No method here retries.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}) (bson.ObjectID, error)
	FindOne(ctx context.Context, filter interface{}, opts ...FindOptions) Cursor
	Find(ctx context.Context, filter interface{}, opts ...FindOptions) (Cursor, error)
	UpdateOne(ctx context.Context, filter, update interface{}, opts ...UpdateOptions) (UpdateResult, error)
	// ReplaceOne overwrites the single document matching filter with
	// replacement in full, the way commit_inode replaces an inode
	// document by id.
	ReplaceOne(ctx context.Context, filter, replacement interface{}) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}) (int64, error)
	DeleteMany(ctx context.Context, filter interface{}) (int64, error)
	CountDocuments(ctx context.Context, filter interface{}) (int64, error)
}

// Database hands out collections by name (inodes, extents, blocks).
// Kept as an interface so a Conn and a storetest fake both satisfy it.
type Database interface {
	Collection(name string) Collection
}
