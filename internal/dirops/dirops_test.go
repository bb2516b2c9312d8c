package dirops

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/extent"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/snapshot"
	"github.com/mongofuse/mongofuse/internal/store/storetest"
)

func newTestOps(t *testing.T) (*Ops, *inode.Store) {
	t.Helper()
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Unix(1700000000, 0))

	inodes := inode.NewStore(storetest.NewCollection(), clock, time.Minute)
	extents := extent.NewStore(storetest.NewCollection())
	blocks := blockstore.NewStore(storetest.NewCollection())
	eng := snapshot.NewEngine(inodes, extents, blocks)
	return New(inodes, eng), inodes
}

func TestMkdirCreatesDirAndSnapshotChild(t *testing.T) {
	ctx := context.Background()
	o, inodes := newTestOps(t)

	require.NoError(t, inodes.Bootstrap(ctx, 0755))
	require.NoError(t, o.Mkdir(ctx, "/dir", 0755))

	got, err := inodes.Get(ctx, "/dir")
	require.NoError(t, err)
	assert.True(t, got.IsDir())

	snap, err := inodes.Get(ctx, "/dir/.snapshot")
	require.NoError(t, err)
	assert.True(t, snap.IsDir())
}

func TestReaddirListsDotDotDotThenChildrenExcludingSnapshot(t *testing.T) {
	ctx := context.Background()
	o, inodes := newTestOps(t)

	require.NoError(t, o.Mkdir(ctx, "/dir", 0755))
	_, err := inodes.Create(ctx, "/dir/a.txt", inode.ModeRegular|0644, nil)
	require.NoError(t, err)

	entries, err := o.Readdir(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, "a.txt", entries[2].Name)
}

func TestRmdirFailsWhenNonSnapshotChildrenRemain(t *testing.T) {
	ctx := context.Background()
	o, inodes := newTestOps(t)

	require.NoError(t, o.Mkdir(ctx, "/dir", 0755))
	_, err := inodes.Create(ctx, "/dir/a.txt", inode.ModeRegular|0644, nil)
	require.NoError(t, err)

	err = o.Rmdir(ctx, "/dir")
	assert.Equal(t, errs.NotEmpty, errs.KindOf(err))
}

func TestRmdirOrphansSnapshotThenDeletesDirInode(t *testing.T) {
	ctx := context.Background()
	o, inodes := newTestOps(t)

	require.NoError(t, inodes.Bootstrap(ctx, 0755))
	require.NoError(t, o.Mkdir(ctx, "/dir", 0755))

	_, err := inodes.Create(ctx, "/dir/.snapshot/1", inode.ModeDir|0755, nil)
	require.NoError(t, err)
	_, err = inodes.Create(ctx, "/dir/.snapshot/1/a.txt", inode.ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, o.Rmdir(ctx, "/dir"))

	_, err = inodes.Get(ctx, "/dir")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	_, err = inodes.Get(ctx, "/dir/.snapshot")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	// The .snapshot directory's own inode is relocated by OrphanSubtree,
	// not deleted, matching the original's recursive orphan_snapshot.
	snapDir, err := inodes.Get(ctx, "/.snapshot/orphaned-dir_.snapshot")
	require.NoError(t, err)
	assert.True(t, snapDir.IsDir())

	genDir, err := inodes.Get(ctx, "/.snapshot/orphaned-dir_.snapshot_1")
	require.NoError(t, err)
	assert.True(t, genDir.IsDir())

	got, err := inodes.Get(ctx, "/.snapshot/orphaned-dir_.snapshot_1_a.txt")
	require.NoError(t, err)
	assert.True(t, got.IsRegular())
}

func TestRenameDelegatesToInodeStore(t *testing.T) {
	ctx := context.Background()
	o, inodes := newTestOps(t)

	_, err := inodes.Create(ctx, "/a", inode.ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, o.Rename(ctx, "/a", "/b"))

	_, err = inodes.Get(ctx, "/a")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	_, err = inodes.Get(ctx, "/b")
	assert.NoError(t, err)
}
