package fuseadapter

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/dirops"
	"github.com/mongofuse/mongofuse/internal/extent"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/rw"
	"github.com/mongofuse/mongofuse/internal/snapshot"
	"github.com/mongofuse/mongofuse/internal/store/storetest"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	ctx := context.Background()
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Unix(1700000000, 0))

	inodes := inode.NewStore(storetest.NewCollection(), clock, time.Minute)
	require.NoError(t, inodes.Bootstrap(ctx, 0755))

	extents := extent.NewStore(storetest.NewCollection())
	blocks := blockstore.NewStore(storetest.NewCollection())
	eng := snapshot.NewEngine(inodes, extents, blocks)
	dirs := dirops.New(inodes, eng)
	rwPath := rw.New(inodes, extents, blocks)

	return New(inodes, dirs, rwPath, eng)
}

func TestMkDirThenLookUpInodeResolvesChild(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))
	assert.NotZero(t, mk.Entry.Child)

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(ctx, look))
	assert.Equal(t, mk.Entry.Child, look.Entry.Child)
}

func TestCreateFileThenWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Data: []byte("hello"), Offset: 0}
	require.NoError(t, fs.WriteFile(ctx, write))

	buf := make([]byte, 5)
	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Dst: buf, Offset: 0}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, 5, read.BytesRead)
	assert.Equal(t, "hello", string(buf))
}

func TestUnlinkRemovesFileInode(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	unlink := &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t, fs.Unlink(ctx, unlink))

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	err := fs.LookUpInode(ctx, look)
	assert.Error(t, err)
}

func TestRmDirFailsNotEmptyThenSucceedsAfterUnlink(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))

	create := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	rmdir := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "dir"}
	assert.Error(t, fs.RmDir(ctx, rmdir))

	unlink := &fuseops.UnlinkOp{Parent: mk.Entry.Child, Name: "a.txt"}
	require.NoError(t, fs.Unlink(ctx, unlink))

	require.NoError(t, fs.RmDir(ctx, rmdir))
}

func TestRenameMovesEntryToNewParent(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	rename := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID, OldName: "a.txt",
		NewParent: mk.Entry.Child, NewName: "b.txt",
	}
	require.NoError(t, fs.Rename(ctx, rename))

	look := &fuseops.LookUpInodeOp{Parent: mk.Entry.Child, Name: "b.txt"}
	require.NoError(t, fs.LookUpInode(ctx, look))
}

func TestGetAndSetInodeAttributes(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	size := uint64(42)
	set := &fuseops.SetInodeAttributesOp{Inode: create.Entry.Child, Size: &size}
	require.NoError(t, fs.SetInodeAttributes(ctx, set))
	assert.Equal(t, size, set.Attributes.Size)

	get := &fuseops.GetInodeAttributesOp{Inode: create.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(ctx, get))
	assert.Equal(t, size, get.Attributes.Size)
}

func TestForgetInodeReleasesBookkeepingOnceCountReachesZero(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	forget := &fuseops.ForgetInodeOp{Inode: create.Entry.Child, N: 1}
	require.NoError(t, fs.ForgetInode(ctx, forget))

	_, ok := fs.resolve(create.Entry.Child)
	assert.False(t, ok)
}

func TestMkDirUnderSnapshotCreatesGeneration(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))

	create := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))
	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Data: []byte("v1"), Offset: 0}
	require.NoError(t, fs.WriteFile(ctx, write))

	lookSnap := &fuseops.LookUpInodeOp{Parent: mk.Entry.Child, Name: ".snapshot"}
	require.NoError(t, fs.LookUpInode(ctx, lookSnap))

	mkGen := &fuseops.MkDirOp{Parent: lookSnap.Entry.Child, Name: "whatever-the-kernel-sends", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mkGen))
	assert.NotZero(t, mkGen.Entry.Child)

	lookGen := &fuseops.LookUpInodeOp{Parent: lookSnap.Entry.Child, Name: "1"}
	require.NoError(t, fs.LookUpInode(ctx, lookGen))
	assert.Equal(t, mkGen.Entry.Child, lookGen.Entry.Child)

	lookFrozen := &fuseops.LookUpInodeOp{Parent: lookGen.Entry.Child, Name: "a.txt"}
	require.NoError(t, fs.LookUpInode(ctx, lookFrozen))

	buf := make([]byte, 2)
	read := &fuseops.ReadFileOp{Inode: lookFrozen.Entry.Child, Dst: buf, Offset: 0}
	require.NoError(t, fs.ReadFile(ctx, read))
	assert.Equal(t, "v1", string(buf))
}

func TestLookUpInodeWithUnknownParentReturnsENOENT(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	look := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(999999), Name: "x"}
	assert.Error(t, fs.LookUpInode(ctx, look))
}
