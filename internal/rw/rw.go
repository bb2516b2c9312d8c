// Package rw implements component 4.G, the read/write path: block-level
// read-modify-write against the extent store, and truncate.
package rw

import (
	"context"

	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/extent"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/metrics"
)

// Path is the read/write component. It collaborates with the inode
// store, the extent store, and the block store.
type Path struct {
	inodes  *inode.Store
	extents *extent.Store
	blocks  *blockstore.Store
	metrics *metrics.Handle
}

func New(inodes *inode.Store, extents *extent.Store, blocks *blockstore.Store) *Path {
	return &Path{inodes: inodes, extents: extents, blocks: blocks}
}

// WithMetrics attaches a metrics handle that Write records its extent
// commits against. A nil handle (the default) makes RecordExtentCommit a
// no-op, so this is optional.
func (p *Path) WithMetrics(h *metrics.Handle) *Path {
	p.metrics = h
	return p
}

// computeStart returns the offset of the block boundary containing off,
// for the given power-of-two blocksize.
func computeStart(off int64, blocksize uint32) int64 {
	mask := int64(blocksize) - 1
	return off &^ mask
}

// Read implements the read operation: it fails IsDir for directories,
// returns 0 bytes past end-of-file, and otherwise fills buf from the
// extent store, zero-filling any sparse or missing range.
func (p *Path) Read(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	e, err := p.inodes.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	if e.IsDir() {
		return 0, errs.New(errs.IsDir, "read", path)
	}
	if offset >= e.Size {
		return 0, nil
	}

	size := int64(len(buf))
	if offset+size > e.Size {
		size = e.Size - offset
	}

	blocks, err := p.extents.Deserialize(ctx, e.ID, offset, size)
	if err != nil {
		return 0, err
	}

	n := int(size)
	for i := range buf[:n] {
		buf[i] = 0
	}
	for _, b := range blocks {
		if b.Sparse() {
			continue
		}
		data, err := p.blocks.Get(ctx, b.Hash)
		if err != nil {
			return 0, err
		}
		copyBlockRange(buf, offset, data, b.Offset, b.Len)
	}

	e.RecordBlockAccess(n, false)
	_ = p.inodes.Commit(ctx, e) // best-effort stat update; not part of the read's own success

	return n, nil
}

// copyBlockRange copies the portion of a block's data that falls within
// [bufOffset, bufOffset+len(dst)) into dst, where the block itself
// occupies [blockOffset, blockOffset+blockLen) in the file.
func copyBlockRange(dst []byte, bufOffset int64, block []byte, blockOffset int64, blockLen int) {
	readStart := bufOffset
	readEnd := bufOffset + int64(len(dst))
	blockEnd := blockOffset + int64(blockLen)

	lo := blockOffset
	if lo < readStart {
		lo = readStart
	}
	hi := blockEnd
	if hi > readEnd {
		hi = readEnd
	}
	if lo >= hi {
		return
	}
	copy(dst[lo-bufOffset:hi-bufOffset], block[lo-blockOffset:hi-blockOffset])
}

// Write implements the write operation: for each block-sized span of
// [offset, offset+len(buf)), it either stores buf's span directly (when
// the write fully covers the block) or performs a read-modify-write
// against whatever is currently there, then serializes the new extent
// entries and grows the inode's size if the write extended the file.
func (p *Path) Write(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	e, err := p.inodes.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	if e.IsDir() {
		return 0, errs.New(errs.IsDir, "write", path)
	}

	blocksize := int64(e.BlockSize)
	if blocksize == 0 {
		blocksize = int64(inode.DefaultBlockSize)
	}

	var entries []extent.Entry
	end := offset + int64(len(buf))

	for pos := computeStart(offset, uint32(blocksize)); pos < end; pos += blocksize {
		blockEnd := pos + blocksize
		writeLo := pos
		if writeLo < offset {
			writeLo = offset
		}
		writeHi := blockEnd
		if writeHi > end {
			writeHi = end
		}

		var blockData []byte
		fullyCovered := writeLo == pos && writeHi == blockEnd
		if fullyCovered {
			blockData = append([]byte(nil), buf[writeLo-offset:writeHi-offset]...)
		} else {
			blockData = make([]byte, blockEnd-pos)
			existing, err := p.extents.Deserialize(ctx, e.ID, pos, blockEnd-pos)
			if err != nil {
				return 0, err
			}
			for _, b := range existing {
				if b.Sparse() {
					continue
				}
				old, err := p.blocks.Get(ctx, b.Hash)
				if err != nil {
					return 0, err
				}
				copyBlockRange(blockData, pos, old, b.Offset, b.Len)
			}
			copy(blockData[writeLo-pos:writeHi-pos], buf[writeLo-offset:writeHi-offset])
		}

		hash, err := p.blocks.Put(ctx, blockData)
		if err != nil {
			return 0, err
		}
		entries = append(entries, extent.Entry{Offset: pos, Len: len(blockData), Hash: hash})

		if err := p.extents.Serialize(ctx, e.ID, []extent.Entry{entries[len(entries)-1]}); err != nil {
			return 0, err
		}
	}

	n := len(buf)
	e.RecordBlockAccess(n, true)
	if end > e.Size {
		e.Size = end
	}
	if err := p.inodes.Commit(ctx, e); err != nil {
		return 0, err
	}

	p.metrics.RecordExtentCommit(len(entries))

	return n, nil
}

// Truncate implements do_trunc: it changes the inode's recorded size.
// Growing a file needs no extent changes, since Read already zero-fills
// any range with no covering extent; shrinking drops the extents beyond
// the new size so the freed blocks can be reclaimed.
func (p *Path) Truncate(ctx context.Context, path string, size int64) error {
	e, err := p.inodes.Get(ctx, path)
	if err != nil {
		return err
	}
	if e.IsDir() {
		return errs.New(errs.IsDir, "truncate", path)
	}

	if size < e.Size {
		tail, err := p.extents.Deserialize(ctx, e.ID, size, e.Size-size)
		if err != nil {
			return err
		}

		var kept []extent.DeserializedBlock
		if size > 0 {
			kept, err = p.extents.Deserialize(ctx, e.ID, 0, size)
			if err != nil {
				return err
			}
		}

		// A block straddling the new size boundary is returned whole by
		// both queries above; decref only blocks that don't also survive
		// in kept, or a still-referenced block would be reaped early.
		keptHashes := make(map[string]bool, len(kept))
		for _, b := range kept {
			if !b.Sparse() {
				keptHashes[string(b.Hash)] = true
			}
		}
		for _, b := range tail {
			if b.Sparse() || keptHashes[string(b.Hash)] {
				continue
			}
			if err := p.blocks.Decref(ctx, b.Hash); err != nil {
				return err
			}
		}

		if err := p.extents.DeleteForInode(ctx, e.ID); err != nil {
			return err
		}
		if len(kept) > 0 {
			entries := make([]extent.Entry, len(kept))
			for i, b := range kept {
				entries[i] = extent.Entry{Offset: b.Offset, Len: b.Len, Hash: b.Hash}
			}
			if err := p.extents.Serialize(ctx, e.ID, entries); err != nil {
				return err
			}
		}
	}

	e.Size = size
	return p.inodes.Commit(ctx, e)
}
