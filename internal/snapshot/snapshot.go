// Package snapshot implements component 4.F, the snapshot engine: create
// a frozen generation of a directory's files, and orphan a subtree that
// rmdir is about to remove into the nearest surviving ancestor snapshot.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/extent"
	"github.com/mongofuse/mongofuse/internal/inode"
)

// Engine is the snapshot engine. It collaborates with the inode store,
// the extent store, and the block store, but owns no state of its own:
// every operation is a self-contained sequence of requests against those
// three, matching the "independently idempotent, commit replaces by id"
// failure semantics the design calls for.
type Engine struct {
	inodes  *inode.Store
	extents *extent.Store
	blocks  *blockstore.Store
}

func NewEngine(inodes *inode.Store, extents *extent.Store, blocks *blockstore.Store) *Engine {
	return &Engine{inodes: inodes, extents: extents, blocks: blocks}
}

var generationName = regexp.MustCompile(`^\d+$`)

// CreateGeneration implements snapshot_dir: it allocates the next
// generation number under dir/.snapshot, creates the generation
// directory, and freezes every live regular file or symlink directly
// under dir into it. Directories directly under dir are skipped — their
// own contents are captured when they are themselves snapshotted.
func (e *Engine) CreateGeneration(ctx context.Context, dir string, mode uint32) (int, error) {
	snapshotDir := dir + "/.snapshot"

	children, err := e.inodes.ScanChildren(ctx, snapshotDir)
	if err != nil {
		return 0, err
	}
	generation := 1
	for _, c := range children {
		if generationName.MatchString(c.ShortName()) {
			generation++
		}
	}

	genPath := fmt.Sprintf("%s/%d", snapshotDir, generation)
	if _, err := e.inodes.Create(ctx, genPath, mode, nil); err != nil {
		return 0, err
	}

	live, err := e.inodes.ScanChildren(ctx, dir)
	if err != nil {
		return 0, err
	}
	for _, c := range live {
		if c.Inode.IsDir() {
			continue
		}
		// The scan projects out inline data; reload the full document so a
		// symlink's target is frozen along with it.
		full, err := e.inodes.Get(ctx, c.MatchedPath)
		if err != nil {
			return 0, err
		}
		snapshotPath := genPath + "/" + c.ShortName()
		if err := e.freeze(ctx, full, snapshotPath); err != nil {
			return 0, err
		}
	}

	return generation, nil
}

// freeze re-keys child's blocks under a freshly allocated id and commits
// a new inode document under that id with a single dirent pointing into
// the generation directory. child's own document, id, and dirents are
// left untouched: the live path continues to resolve to child exactly as
// before, while the generation directory now also resolves to the
// content as it existed at this instant, sharing the same blocks.
func (e *Engine) freeze(ctx context.Context, child *inode.Inode, snapshotPath string) error {
	newID := bson.NewObjectID()

	blocks, err := e.extents.Deserialize(ctx, child.ID, 0, child.Size)
	if err != nil {
		return err
	}

	if len(blocks) > 0 {
		hashes := make([][]byte, 0, len(blocks))
		for _, b := range blocks {
			if !b.Sparse() {
				hashes = append(hashes, b.Hash)
			}
		}
		for _, m := range blockstore.Batch(newID, hashes) {
			for _, h := range m.Hashes {
				if err := e.blocks.Incref(ctx, h); err != nil {
					return err
				}
			}
		}

		entries := make([]extent.Entry, len(blocks))
		for i, b := range blocks {
			entries[i] = extent.Entry{Offset: b.Offset, Len: b.Len, Hash: b.Hash}
		}
		if err := e.extents.Serialize(ctx, newID, entries); err != nil {
			return err
		}
	}

	frozen := &inode.Inode{
		ID:        newID,
		Dirents:   []string{snapshotPath},
		Mode:      child.Mode,
		Owner:     child.Owner,
		Group:     child.Group,
		Size:      child.Size,
		Dev:       child.Dev,
		Created:   child.Created,
		Modified:  child.Modified,
		BlockSize: child.BlockSize,
		Data:      append([]byte(nil), child.Data...),
	}
	return e.inodes.InsertFrozen(ctx, frozen)
}

// OrphanSubtree implements orphan_snapshot: it loads the inode at path
// (the .snapshot directory being removed, or a generation directory
// beneath it), recurses into its children first if it is a directory,
// then rewrites path's own inode to hang off destRoot (the nearest
// surviving ancestor's .snapshot directory) instead of being deleted,
// with a name that encodes its original subtree path so two orphaned
// subtrees never collide. Directories recurse into their children before
// their own dirent is rewritten, since the scan that discovers children
// depends on the parent's path still matching.
func (e *Engine) OrphanSubtree(ctx context.Context, path, destRoot string) error {
	self, err := e.inodes.Get(ctx, path)
	if err != nil {
		return err
	}

	if self.IsDir() {
		children, err := e.inodes.ScanChildren(ctx, path)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := e.OrphanSubtree(ctx, c.MatchedPath, destRoot); err != nil {
				return err
			}
		}
	}

	self.Dirents = []string{destRoot + "/orphaned-" + orphanSuffix(path)}
	if err := e.inodes.Commit(ctx, self); err != nil {
		return errs.Wrap(errs.IO, "orphan_snapshot", path, err)
	}
	return nil
}

// orphanSuffix derives a collision-resistant suffix from the original
// path being orphaned away. Using the full path with its separators
// replaced is enough to avoid collisions since dirents were themselves
// unique paths; it is not reversed back into a path anywhere, so no
// escaping beyond that substitution is needed.
func orphanSuffix(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "_")
}
