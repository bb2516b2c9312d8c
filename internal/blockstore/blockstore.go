// Package blockstore implements component 4.D: the content-addressed,
// refcounted block store that backs every extent's block array. Blocks
// are keyed by their content hash, so two inodes (or two offsets within
// the same inode) that happen to hold identical data share one stored
// copy; the refcount on a block document tracks how many extent entries
// currently reference it.
package blockstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/time/rate"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store"
)

// HashLen matches extent.HashLen; duplicated here rather than imported to
// keep blockstore free of a dependency on the extent package.
const HashLen = 20

// Hash returns the content address of data.
func Hash(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// key renders a content hash as the hex string used for the block
// document's _id, so the identifier round-trips through BSON (and the
// in-memory test fake's plain equality matcher) as an ordinary string
// rather than a binary subtype.
func key(hash []byte) string { return hex.EncodeToString(hash) }

// document is the on-wire form of a block (spec.md §6: hash, data,
// refcount).
type document struct {
	ID       string `bson:"_id"`
	Data     []byte `bson:"data"`
	Refcount int64  `bson:"refcount"`
}

// Store is the block store. It compresses block payloads with zstd
// before writing them and rate-limits the volume of block writes a
// single Store will issue per second, so one runaway writer cannot
// monopolize the document store's write capacity.
type Store struct {
	coll    store.Collection
	limiter *rate.Limiter

	encPool sync.Pool
	decPool sync.Pool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithRateLimit caps sustained block writes to r per second, bursting up
// to b. A nil limiter (the default) applies no limit.
func WithRateLimit(r rate.Limit, b int) Option {
	return func(s *Store) { s.limiter = rate.NewLimiter(r, b) }
}

// NewStore builds a block store over coll.
func NewStore(coll store.Collection, opts ...Option) *Store {
	s := &Store{coll: coll}
	s.encPool.New = func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	}
	s.decPool.New = func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) compress(data []byte) []byte {
	enc := s.encPool.Get().(*zstd.Encoder)
	defer s.encPool.Put(enc)
	var buf bytes.Buffer
	enc.Reset(&buf)
	_, _ = enc.Write(data)
	_ = enc.Close()
	return buf.Bytes()
}

func (s *Store) decompress(compressed []byte) ([]byte, error) {
	dec := s.decPool.Get().(*zstd.Decoder)
	defer s.decPool.Put(dec)
	return dec.DecodeAll(compressed, nil)
}

func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Put stores data if no block with its content hash already exists,
// otherwise increments the existing block's refcount. Either way it
// returns the content hash new extent entries should reference.
func (s *Store) Put(ctx context.Context, data []byte) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, errs.Wrap(errs.IO, "put_block", "", err)
	}

	hash := Hash(data)
	id := key(hash)

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"refcount": 1}})
	if err != nil {
		return nil, errs.Wrap(errs.IO, "put_block", "", err)
	}
	if res.MatchedCount > 0 {
		return hash, nil
	}

	doc := document{ID: id, Data: s.compress(data), Refcount: 1}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		// Lost the race against a concurrent first writer of the same
		// content: fall back to an increment, since the document now
		// exists either way.
		if errs.KindOf(err) == errs.Exists {
			_, err2 := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"refcount": 1}})
			if err2 != nil {
				return nil, errs.Wrap(errs.IO, "put_block", "", err2)
			}
			return hash, nil
		}
		return nil, errs.Wrap(errs.IO, "put_block", "", err)
	}
	return hash, nil
}

// Get fetches and decompresses the block with the given hash.
func (s *Store) Get(ctx context.Context, hash []byte) ([]byte, error) {
	cur := s.coll.FindOne(ctx, bson.M{"_id": key(hash)})
	var d document
	if err := cur.Decode(&d); err != nil {
		return nil, errs.Wrap(errs.NotFound, "get_block", "", err)
	}
	data, err := s.decompress(d.Data)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "get_block", "", err)
	}
	return data, nil
}

// Incref increments the refcount of the block with the given hash,
// recording that one more extent entry now points at it. Used when
// re-keying extents to a new owning inode (the snapshot engine's
// freeze step) shares blocks rather than copying their data.
func (s *Store) Incref(ctx context.Context, hash []byte) error {
	if err := s.wait(ctx); err != nil {
		return errs.Wrap(errs.IO, "incref_block", "", err)
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": key(hash)}, bson.M{"$inc": bson.M{"refcount": 1}})
	if err != nil {
		return errs.Wrap(errs.IO, "incref_block", "", err)
	}
	if res.MatchedCount == 0 {
		return errs.New(errs.NotFound, "incref_block", "")
	}
	return nil
}

// Decref decrements the refcount of the block with the given hash and
// deletes it outright once the count reaches zero, so that a block with
// no surviving references does not linger in the store.
func (s *Store) Decref(ctx context.Context, hash []byte) error {
	id := key(hash)
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"refcount": -1}})
	if err != nil {
		return errs.Wrap(errs.IO, "decref_block", "", err)
	}
	if res.MatchedCount == 0 {
		return errs.New(errs.NotFound, "decref_block", "")
	}

	cur := s.coll.FindOne(ctx, bson.M{"_id": id})
	var d document
	if err := cur.Decode(&d); err != nil {
		return nil // already gone; nothing left to reap
	}
	if d.Refcount <= 0 {
		if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return errs.Wrap(errs.IO, "decref_block", "", err)
		}
	}
	return nil
}
