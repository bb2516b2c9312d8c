package extent

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store"
)

// Store is the extent store (4.C), backed by its own MongoDB
// collection independent of the inode collection.
type Store struct {
	coll store.Collection
}

func NewStore(coll store.Collection) *Store {
	return &Store{coll: coll}
}

// Serialize writes entries — possibly out of order, possibly
// overlapping previously-written ranges — as a set of new extent
// documents, then deletes the now-superseded old ones. A zero-length
// entries slice is a no-op.
//
// Algorithm (spec.md §4.C):
//  1. Stable-sort by (sequence, offset) — sequence is the entry's
//     original slice index, so earlier writes win ties.
//  2. Walk the sorted list grouping maximal contiguous runs.
//  3. Insert one extent document per run.
//  4. Delete extents of the same inode fully contained in the new
//     range with an id less than the new document's id — the id
//     ordering makes this step idempotent under retry.
func (s *Store) Serialize(ctx context.Context, inodeID bson.ObjectID, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	type seqEntry struct {
		Entry
		seq int
	}
	seq := make([]seqEntry, len(entries))
	for i, e := range entries {
		seq[i] = seqEntry{Entry: e, seq: i}
	}
	sort.SliceStable(seq, func(i, j int) bool {
		if seq[i].seq != seq[j].seq {
			return seq[i].seq < seq[j].seq
		}
		return seq[i].Offset < seq[j].Offset
	})

	for idx := 0; idx < len(seq); {
		runStart := seq[idx].Offset
		lastEnd := int64(0)
		var blocks []Block

		for ; idx < len(seq); idx++ {
			cur := seq[idx]
			if lastEnd > 0 && cur.Offset != lastEnd {
				break
			}
			blocks = append(blocks, Block{Hash: cur.Hash, Len: cur.Len})
			lastEnd = cur.Offset + int64(cur.Len)
		}

		newDoc := &Extent{
			ID:     bson.NewObjectID(),
			Inode:  inodeID,
			Start:  runStart,
			End:    lastEnd,
			Blocks: blocks,
		}

		if _, err := s.coll.InsertOne(ctx, newDoc.toDocument()); err != nil {
			return errs.Wrap(errs.IO, "serialize_extent", "", err)
		}

		cond := bson.M{
			"inode": inodeID,
			"start": bson.M{"$gte": runStart},
			"end":   bson.M{"$lte": lastEnd},
			"_id":   bson.M{"$lt": newDoc.ID},
		}
		if _, err := s.coll.DeleteMany(ctx, cond); err != nil {
			return errs.Wrap(errs.IO, "serialize_extent", "", err)
		}
	}

	return nil
}

// Deserialize answers a range query: every extent of inodeID
// overlapping [off, off+length), broken into the blocks that intersect
// that range, in ascending (start, id) order — so that for overlapping
// writes the later extent (higher id) is observed last and therefore
// wins per block.
func (s *Store) Deserialize(ctx context.Context, inodeID bson.ObjectID, off, length int64) ([]DeserializedBlock, error) {
	end := off + length

	cond := bson.M{
		"inode": inodeID,
		"start": bson.M{"$lte": end},
		"end":   bson.M{"$gte": off},
	}
	sortSpec := bson.D{{Key: "start", Value: 1}, {Key: "_id", Value: 1}}

	cur, err := s.coll.Find(ctx, cond, store.FindOptions{Sort: sortSpec})
	if err != nil {
		return nil, errs.Wrap(errs.IO, "deserialize_extent", "", err)
	}
	defer cur.Close(ctx)

	var out []DeserializedBlock
	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return nil, errs.Wrap(errs.IO, "deserialize_extent", "", err)
		}
		curoff := d.Start
		for _, b := range d.Blocks {
			curend := curoff + int64(b.Len)
			if curoff < end && curend > off {
				out = append(out, DeserializedBlock{Offset: curoff, Len: b.Len, Hash: b.Hash})
			}
			curoff = curend
		}
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(errs.IO, "deserialize_extent", "", err)
	}
	return out, nil
}

// DeleteForInode removes every extent document belonging to inodeID.
// rw.Truncate calls it before re-serializing the prefix it keeps.
// Unlinking a file through the FUSE adapter deletes only the inode
// document and does not call it, so that file's extents remain.
func (s *Store) DeleteForInode(ctx context.Context, inodeID bson.ObjectID) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"inode": inodeID}); err != nil {
		return errs.Wrap(errs.IO, "delete_extents", "", err)
	}
	return nil
}
