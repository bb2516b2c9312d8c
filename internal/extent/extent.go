// Package extent implements component 4.C, the extent store: the
// representation, serialization, merging, and range-query of
// content-addressed block runs attached to an inode.
package extent

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// HashLen is the width of a content-addressed block hash (spec.md §3:
// "hash: 20 bytes or null").
const HashLen = 20

// Block is one tiled entry within an extent's block array. A nil Hash
// denotes a sparse (all-zero) run.
type Block struct {
	Hash []byte
	Len  int
}

func (b Block) sparse() bool { return b.Hash == nil }

// Extent is the in-memory form of an extent document.
type Extent struct {
	ID     bson.ObjectID
	Inode  bson.ObjectID
	Start  int64
	End    int64
	Blocks []Block
}

// Entry is one (offset, length, hash) tuple as produced by the
// read/write path before serialization. The caller supplies entries in
// whatever order writes occurred; their position in the slice passed to
// Serialize is the sequence number used to break ties on overlapping
// offsets, so that "entries inserted earlier win ties" without needing
// a persisted sequence field (spec.md §4.C: "sequence numbers are
// internal to one batch and are not persisted").
type Entry struct {
	Offset int64
	Len    int
	Hash   []byte // nil => sparse
}

// document is the on-wire form of an extent, matching spec.md §6.
type document struct {
	ID     bson.ObjectID  `bson:"_id"`
	Inode  bson.ObjectID  `bson:"inode"`
	Start  int64          `bson:"start"`
	End    int64          `bson:"end"`
	Blocks []blockDoc     `bson:"blocks"`
}

type blockDoc struct {
	Hash []byte `bson:"hash"`
	Len  int32  `bson:"len"`
}

func (e *Extent) toDocument() document {
	blocks := make([]blockDoc, len(e.Blocks))
	for i, b := range e.Blocks {
		blocks[i] = blockDoc{Hash: b.Hash, Len: int32(b.Len)}
	}
	return document{ID: e.ID, Inode: e.Inode, Start: e.Start, End: e.End, Blocks: blocks}
}

func fromDocument(d document) *Extent {
	blocks := make([]Block, len(d.Blocks))
	for i, b := range d.Blocks {
		blocks[i] = Block{Hash: b.Hash, Len: int(b.Len)}
	}
	return &Extent{ID: d.ID, Inode: d.Inode, Start: d.Start, End: d.End, Blocks: blocks}
}

// RoundUpPow2 rounds v up to the next power of two, carried over from
// the original's round_up_pow2: used when a configured default
// blocksize is not already a power of two, since compute_start requires
// one.
func RoundUpPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// DeserializedBlock is one block returned by Deserialize: the byte range
// [Offset, Offset+Len) and its content hash, or a nil Hash for a sparse
// (zero) run.
type DeserializedBlock struct {
	Offset int64
	Len    int
	Hash   []byte
}

func (b DeserializedBlock) Sparse() bool { return b.Hash == nil }
