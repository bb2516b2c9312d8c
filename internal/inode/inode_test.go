package inode

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *timeutil.SimulatedClock) {
	t.Helper()
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Unix(1700000000, 0))
	return NewStore(storetest.NewCollection(), clock, time.Minute), clock
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	created, err := s.Create(ctx, "/a", ModeRegular|0644, nil)
	require.NoError(t, err)
	assert.True(t, created.IsRegular())

	got, err := s.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "a", got.Name())
}

func TestCreateRejectsDuplicatePath(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/a", ModeRegular|0644, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "/a", ModeRegular|0644, nil)
	assert.Equal(t, errs.Exists, errs.KindOf(err))
}

func TestGetMissingPathIsNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Get(ctx, "/missing")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Bootstrap(ctx, 0755))
	require.NoError(t, s.Bootstrap(ctx, 0755))

	root, err := s.Get(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())

	snap, err := s.Get(ctx, "/.snapshot")
	require.NoError(t, err)
	assert.True(t, snap.IsDir())
}

func TestScanChildrenFindsDirectChildrenOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Bootstrap(ctx, 0755))
	_, err := s.Create(ctx, "/dir", ModeDir|0755, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/dir/child", ModeRegular|0644, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/dir/child/grandchild", ModeRegular|0644, nil)
	require.NoError(t, err)

	children, err := s.ScanChildren(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].ShortName())
}

func TestScanChildrenSuppressesSnapshotDir(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/dir", ModeDir|0755, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/dir/.snapshot", ModeDir|0755, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/dir/file", ModeRegular|0644, nil)
	require.NoError(t, err)

	children, err := s.ScanChildren(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "file", children[0].ShortName())
}

func TestRenameRewritesDirent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/old", ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, "/old", "/new"))

	_, err = s.Get(ctx, "/old")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	got, err := s.Get(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name())
}

func TestDeleteRemovesDocument(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	e, err := s.Create(ctx, "/a", ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, e.ID))

	_, err = s.Get(ctx, "/a")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestRecordBlockAccessBucketsBySize(t *testing.T) {
	e := &Inode{}
	e.RecordBlockAccess(100, false)
	e.RecordBlockAccess(5000, true)

	assert.Equal(t, int64(1), e.Reads[0])
	assert.Equal(t, int64(1), e.Writes[4])
}

func TestLockInodeExcludesConflictingWriter(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/f", ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, s.LockInode(ctx, "/f", true, "holder-a", time.Second, true))

	err = s.LockInode(ctx, "/f", true, "holder-b", time.Second, true)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestLockInodeAllowsSharedReaders(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/f", ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, s.LockInode(ctx, "/f", false, "reader-a", time.Second, true))
	require.NoError(t, s.LockInode(ctx, "/f", false, "reader-b", time.Second, true))
}

func TestUnlockInodeReleasesHolder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, "/f", ModeRegular|0644, nil)
	require.NoError(t, err)

	require.NoError(t, s.LockInode(ctx, "/f", true, "holder-a", time.Second, true))
	require.NoError(t, s.UnlockInode(ctx, "/f", "holder-a"))

	require.NoError(t, s.LockInode(ctx, "/f", true, "holder-b", time.Second, true))
}
