package inode

import (
	"context"
	"errors"
	"time"

	"github.com/jacobsa/timeutil"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store"
)

// Store is the inode store (4.A) and, by virtue of sharing its
// collection, the dirent index (4.B). It is safe for concurrent use by
// multiple goroutines: the only mutable state is the document-store
// connection, and every method is a self-contained request/response
// round trip.
type Store struct {
	coll    store.Collection
	clock   timeutil.Clock
	lockTTL time.Duration
}

// DefaultLockTTL reclaims an advisory lock whose holder has not
// refreshed it in this long.
const DefaultLockTTL = 30 * time.Second

// NewStore builds an inode store over coll. clock sources every
// created/modified/lock timestamp the store writes, so tests can supply
// a *timeutil.SimulatedClock instead of the wall clock.
func NewStore(coll store.Collection, clock timeutil.Clock, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{coll: coll, clock: clock, lockTTL: lockTTL}
}

// Get resolves path to its inode via the dirent index: a path hit is
// the inode document whose dirents array contains that exact string.
func (s *Store) Get(ctx context.Context, path string) (*Inode, error) {
	cur := s.coll.FindOne(ctx, bson.M{"dirents": path})
	var d document
	if err := cur.Decode(&d); err != nil {
		if errors.Is(err, store.ErrNoDocuments) {
			return nil, errs.New(errs.NotFound, "get", path)
		}
		return nil, errs.Wrap(errs.IO, "get", path, err)
	}
	return fromDocument(d), nil
}

// Exists reports whether path currently resolves to a live inode.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"dirents": path})
	if err != nil {
		return false, errs.Wrap(errs.IO, "exists", path, err)
	}
	return n > 0, nil
}

// Create inserts a new inode document at path. It rejects when path
// already resolves to a live inode, per the component contract.
func (s *Store) Create(ctx context.Context, path string, mode uint32, inline []byte) (*Inode, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.New(errs.Exists, "create", path)
	}

	now := s.clock.Now()
	e := &Inode{
		ID:        bson.NewObjectID(),
		Dirents:   []string{path},
		Mode:      mode,
		BlockSize: DefaultBlockSize,
		Created:   now,
		Modified:  now,
		Data:      inline,
	}

	id, err := s.coll.InsertOne(ctx, e.toDocument())
	if err != nil {
		return nil, errs.Wrap(errs.IO, "create", path, err)
	}
	e.ID = id
	return e, nil
}

// Bootstrap ensures the root directory ("/") and its ".snapshot" child
// exist, creating them with mode if they don't. It is idempotent, so
// mount.go can call it unconditionally on every startup.
func (s *Store) Bootstrap(ctx context.Context, mode uint32) error {
	if _, err := s.Create(ctx, "/", mode|ModeDir, nil); err != nil && errs.KindOf(err) != errs.Exists {
		return err
	}
	if _, err := s.Create(ctx, "/.snapshot", mode|ModeDir, nil); err != nil && errs.KindOf(err) != errs.Exists {
		return err
	}
	return nil
}

// Commit writes the full document for e, replacing the previous one by
// id. Extents and block maps are immutable and versioned independently;
// only the inode fields themselves are overwritten here.
func (s *Store) Commit(ctx context.Context, e *Inode) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": e.ID}, e.toDocument())
	if err != nil {
		return errs.Wrap(errs.IO, "commit", e.Name(), err)
	}
	if res.MatchedCount == 0 {
		return errs.New(errs.NotFound, "commit", e.Name())
	}
	return nil
}

// Delete removes the inode document with the given id outright. Used
// by rmdir once a directory's children and .snapshot subtree have been
// accounted for.
func (s *Store) Delete(ctx context.Context, id ID) error {
	n, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errs.Wrap(errs.IO, "delete", "", err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, "delete", "")
	}
	return nil
}

// InsertFrozen inserts e verbatim under its already-assigned id. Used by
// the snapshot engine's freeze step, where the new id is chosen by the
// caller before any block re-keying happens, unlike Create which always
// mints its own id and checks for a path collision first.
func (s *Store) InsertFrozen(ctx context.Context, e *Inode) error {
	if _, err := s.coll.InsertOne(ctx, e.toDocument()); err != nil {
		return errs.Wrap(errs.IO, "freeze_inode", e.Name(), err)
	}
	return nil
}

// FromDocument converts a raw document obtained independently (e.g. by
// a directory scan cursor) into an Inode, the Go equivalent of
// read_from_document / read_inode.
func (s *Store) FromDocument(raw bson.Raw) (*Inode, error) {
	var d document
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, errs.Wrap(errs.IO, "read_from_document", "", err)
	}
	return fromDocument(d), nil
}

// Clock exposes the store's time source to collaborating packages
// (extent, snapshot) so every timestamp in one request traces back to
// one clock reading policy.
func (s *Store) Clock() timeutil.Clock { return s.clock }
