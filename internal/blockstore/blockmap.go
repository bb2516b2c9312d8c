package blockstore

import "go.mongodb.org/mongo-driver/v2/bson"

// BlocksPerMap is the maximum number of block hashes one BlockMap
// batches together, carried over from the original's BLOCKS_PER_MAP.
const BlocksPerMap = 1024

// BlockMap is an in-memory grouping of up to BlocksPerMap block hashes
// belonging to one owning inode, with a parallel dirty bitmap. It has no
// document-store representation of its own; it exists purely to batch
// the snapshot engine's re-key step, so that rewriting a file's block
// ownership to a new inode id proceeds BlocksPerMap hashes at a time
// instead of one extent entry at a time.
type BlockMap struct {
	Owner  bson.ObjectID
	Hashes [][]byte
	Dirty  []bool
}

// NewBlockMap returns an empty map owned by owner.
func NewBlockMap(owner bson.ObjectID) *BlockMap {
	return &BlockMap{Owner: owner}
}

// Full reports whether the map has reached BlocksPerMap entries.
func (m *BlockMap) Full() bool { return len(m.Hashes) >= BlocksPerMap }

// Add appends hash to the map, marked dirty. It reports false without
// modifying the map if the map is already full; the caller should start
// a fresh BlockMap and retry.
func (m *BlockMap) Add(hash []byte) bool {
	if m.Full() {
		return false
	}
	m.Hashes = append(m.Hashes, hash)
	m.Dirty = append(m.Dirty, true)
	return true
}

// MarkAllDirty marks every entry already in the map dirty, mirroring the
// original's memset(map->changed, 1, sizeof(map->changed)) when an
// entire map is forced to re-key in one step.
func (m *BlockMap) MarkAllDirty() {
	for i := range m.Dirty {
		m.Dirty[i] = true
	}
}

// Batch splits hashes into a sequence of BlockMaps of at most
// BlocksPerMap entries each, all owned by owner and fully dirty. The
// snapshot engine uses this to chunk a file's full block list before
// issuing the refcount increments its re-key step requires.
func Batch(owner bson.ObjectID, hashes [][]byte) []*BlockMap {
	var maps []*BlockMap
	for i := 0; i < len(hashes); i += BlocksPerMap {
		end := i + BlocksPerMap
		if end > len(hashes) {
			end = len(hashes)
		}
		m := NewBlockMap(owner)
		for _, h := range hashes[i:end] {
			m.Add(h)
		}
		maps = append(maps, m)
	}
	return maps
}
