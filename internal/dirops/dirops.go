// Package dirops implements component 4.E, directory operations: mkdir,
// rmdir, rename, and the stat-buffer fabrication readdir needs on top of
// the dirent scan.
package dirops

import (
	"context"
	"strings"
	"time"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/snapshot"
)

// Ops is the directory-operations component. It collaborates with the
// inode store directly and with the snapshot engine for the subtree
// orphaning rmdir requires.
type Ops struct {
	inodes *inode.Store
	snap   *snapshot.Engine
}

func New(inodes *inode.Store, snap *snapshot.Engine) *Ops {
	return &Ops{inodes: inodes, snap: snap}
}

// Entry is the fabricated stat buffer a readdir filler callback needs:
// everything the scan already has on the child inode, named the way a
// getattr response would present it.
type Entry struct {
	Name     string
	Mode     uint32
	Nlink    uint32
	Owner    int64
	Group    int64
	Size     int64
	Dev      int64
	Created  time.Time
	Modified time.Time
}

func entryFor(name string, e *inode.Inode) Entry {
	nlink := uint32(1)
	if e.IsDir() {
		nlink = 2
	}
	return Entry{
		Name:     name,
		Mode:     e.Mode,
		Nlink:    nlink,
		Owner:    e.Owner,
		Group:    e.Group,
		Size:     e.Size,
		Dev:      e.Dev,
		Created:  e.Created,
		Modified: e.Modified,
	}
}

// Mkdir creates a directory inode at path, then a child path/.snapshot
// directory inode with the same mode, so every directory is created
// with somewhere for its future generations to live.
func (o *Ops) Mkdir(ctx context.Context, path string, mode uint32) error {
	mode |= inode.ModeDir

	if _, err := o.inodes.Create(ctx, path, mode, nil); err != nil {
		return err
	}
	if _, err := o.inodes.Create(ctx, path+"/.snapshot", mode, nil); err != nil {
		return err
	}
	return nil
}

// Readdir lists path's entries as Entry stat buffers, "." and ".."
// first, matching the filler-callback pattern the FUSE adapter's readdir
// wires this to.
func (o *Ops) Readdir(ctx context.Context, path string) ([]Entry, error) {
	self, err := o.inodes.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	out := []Entry{
		entryFor(".", self),
		entryFor("..", self),
	}

	children, err := o.inodes.ScanChildren(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		out = append(out, entryFor(c.ShortName(), c.Inode))
	}
	return out, nil
}

// Rmdir removes the directory at path. It fails NotEmpty if path has any
// live children other than .snapshot; otherwise it recursively orphans
// path/.snapshot and everything beneath it into the nearest surviving
// ancestor's snapshot directory, then deletes path's own inode. The
// .snapshot inode itself is relocated by OrphanSubtree, not deleted,
// matching the original's orphan_snapshot recursing over the .snapshot
// inode it was handed rather than removing it.
func (o *Ops) Rmdir(ctx context.Context, path string) error {
	children, err := o.inodes.ScanChildren(ctx, path)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errs.New(errs.NotEmpty, "rmdir", path)
	}

	dir, err := o.inodes.Get(ctx, path)
	if err != nil {
		return err
	}

	snapshotPath := path + "/.snapshot"
	_, err = o.inodes.Get(ctx, snapshotPath)
	switch {
	case err == nil:
		destRoot := parentDir(path) + "/.snapshot"
		if err := o.snap.OrphanSubtree(ctx, snapshotPath, destRoot); err != nil {
			return err
		}
	case errs.KindOf(err) == errs.NotFound:
		// No .snapshot was ever created under path; nothing to orphan.
	default:
		return err
	}

	return o.inodes.Delete(ctx, dir.ID)
}

// Rename rewrites old's dirent to new.
func (o *Ops) Rename(ctx context.Context, old, new string) error {
	return o.inodes.Rename(ctx, old, new)
}

// parentDir returns the directory containing path, as the empty prefix
// normalizeDir expects for "/" itself, so destRoot+"/.snapshot" always
// lands on a single slash regardless of nesting depth.
func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return ""
	}
	return path[:i]
}
