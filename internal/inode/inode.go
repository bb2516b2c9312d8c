// Package inode implements components 4.A (inode store) and 4.B (dirent
// index) of the filesystem core: CRUD for inode documents keyed by a
// stable 12-byte id, and the regex/path scan that turns a directory path
// into its children. The two share one MongoDB collection and one
// on-wire document, exactly as spec.md describes them, so they live in
// one package the way dirops.c and mongo-fuse.c share one struct inode
// in the original source.
package inode

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// POSIX mode bits the core cares about. Only the type bits are
// interpreted here; permission bits pass through unexamined.
const (
	ModeDir     uint32 = 0040000
	ModeRegular uint32 = 0100000
	ModeSymlink uint32 = 0120000
	ModeTypeMask uint32 = 0170000
)

// statBuckets is the number of size-class buckets in the per-inode
// read/write statistics arrays (reads[8], writes[8] in the schema).
const statBuckets = 8

// DefaultBlockSize is used when a caller creates an inode without
// specifying one. Must be a power of two per compute_start's
// requirement.
const DefaultBlockSize uint32 = 4096

// ID is the stable, opaque identifier of an inode: a 12-byte BSON
// ObjectID, matching both the schema ("_id") and the original source's
// bson_oid_t.
type ID = bson.ObjectID

// Inode is the in-memory form of an inode document. It owns its dirents
// list and (lazily, via the blockstore package) its block maps, per the
// data model's ownership note.
type Inode struct {
	ID        ID
	Dirents   []string
	Mode      uint32
	Owner     int64
	Group     int64
	Size      int64
	Dev       int64
	Created   time.Time
	Modified  time.Time
	BlockSize uint32
	Reads     [statBuckets]int64
	Writes    [statBuckets]int64
	Data      []byte // inline data buffer; set only from Create's inline argument (symlink targets)
	Lock      *LockRecord
}

// IsDir reports whether the inode's mode bits mark it a directory.
func (e *Inode) IsDir() bool { return e.Mode&ModeTypeMask == ModeDir }

// IsRegular reports whether the inode's mode bits mark it a regular file.
func (e *Inode) IsRegular() bool { return e.Mode&ModeTypeMask == ModeRegular }

// IsSymlink reports whether the inode's mode bits mark it a symlink.
func (e *Inode) IsSymlink() bool { return e.Mode&ModeTypeMask == ModeSymlink }

// Name returns the short filename of the inode's canonical dirent (the
// one at index 0), scanning backwards for the last slash the way
// read_dirents derives filename from cde->path.
func (e *Inode) Name() string {
	if len(e.Dirents) == 0 {
		return ""
	}
	return baseName(e.Dirents[0])
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// document is the on-wire form of an inode, matching the schema in
// spec.md §6 exactly.
type document struct {
	ID        ID          `bson:"_id"`
	Dirents   []string    `bson:"dirents"`
	Mode      int32       `bson:"mode"`
	Owner     int64       `bson:"owner"`
	Group     int64       `bson:"group"`
	Size      int64       `bson:"size"`
	Dev       int64       `bson:"dev"`
	Created   time.Time   `bson:"created"`
	Modified  time.Time   `bson:"modified"`
	BlockSize int32       `bson:"blocksize"`
	Reads     [statBuckets]int64 `bson:"reads"`
	Writes    [statBuckets]int64 `bson:"writes"`
	Data      []byte      `bson:"data,omitempty"`
	Lock      *lockDoc    `bson:"lock,omitempty"`
}

func fromDocument(d document) *Inode {
	e := &Inode{
		ID:        d.ID,
		Dirents:   append([]string(nil), d.Dirents...),
		Mode:      uint32(d.Mode),
		Owner:     d.Owner,
		Group:     d.Group,
		Size:      d.Size,
		Dev:       d.Dev,
		Created:   d.Created,
		Modified:  d.Modified,
		BlockSize: uint32(d.BlockSize),
		Reads:     d.Reads,
		Writes:    d.Writes,
		Data:      d.Data,
	}
	if d.Lock != nil {
		e.Lock = d.Lock.toRecord()
	}
	return e
}

func (e *Inode) toDocument() document {
	d := document{
		ID:        e.ID,
		Dirents:   e.Dirents,
		Mode:      int32(e.Mode),
		Owner:     e.Owner,
		Group:     e.Group,
		Size:      e.Size,
		Dev:       e.Dev,
		Created:   e.Created,
		Modified:  e.Modified,
		BlockSize: int32(e.BlockSize),
		Reads:     e.Reads,
		Writes:    e.Writes,
		Data:      e.Data,
	}
	if e.Lock != nil {
		d.Lock = e.Lock.toDoc()
	}
	return d
}

// Free releases any in-memory resources held by e. Under garbage
// collection there is nothing to release; this exists only so callers
// written against the component's contract (4.A: free(inode)) have
// something to call on every exit path.
func (e *Inode) Free() {}

// RecordBlockAccess buckets a block access of the given size into the
// inode's reads/writes size-class histogram (reads[8]/writes[8] in the
// schema), the Go equivalent of the original's add_block_stat. Bucket i
// covers sizes in (512<<(i-1), 512<<i], bucket 0 covers [0, 512], and
// the last bucket also takes every size above 512<<6.
func (e *Inode) RecordBlockAccess(size int, write bool) {
	bucket := sizeBucket(size)
	if write {
		e.Writes[bucket]++
	} else {
		e.Reads[bucket]++
	}
}

func sizeBucket(size int) int {
	const base = 512
	if size <= base {
		return 0
	}
	b := 0
	for threshold := base; size > threshold && b < statBuckets-1; threshold <<= 1 {
		b++
	}
	return b
}
