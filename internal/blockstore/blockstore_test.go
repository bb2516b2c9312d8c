package blockstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store/storetest"
)

func TestPutDedupesIdenticalContent(t *testing.T) {
	coll := storetest.NewCollection()
	bs := blockstore.NewStore(coll)
	ctx := context.Background()

	data := []byte("the quick brown fox")
	h1, err := bs.Put(ctx, data)
	require.NoError(t, err)
	h2, err := bs.Put(ctx, append([]byte(nil), data...))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)

	n, err := coll.CountDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetRoundTrips(t *testing.T) {
	coll := storetest.NewCollection()
	bs := blockstore.NewStore(coll)
	ctx := context.Background()

	data := []byte("payload bytes that get compressed and back")
	hash, err := bs.Put(ctx, data)
	require.NoError(t, err)

	got, err := bs.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetMissingIsNotFound(t *testing.T) {
	coll := storetest.NewCollection()
	bs := blockstore.NewStore(coll)
	ctx := context.Background()

	_, err := bs.Get(ctx, blockstore.Hash([]byte("never stored")))
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestDecrefDeletesAtZero(t *testing.T) {
	coll := storetest.NewCollection()
	bs := blockstore.NewStore(coll)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("solo reference"))
	require.NoError(t, err)

	require.NoError(t, bs.Decref(ctx, hash))

	_, err = bs.Get(ctx, hash)
	require.Error(t, err)
}

func TestIncrefDecrefSharedBlockSurvives(t *testing.T) {
	coll := storetest.NewCollection()
	bs := blockstore.NewStore(coll)
	ctx := context.Background()

	hash, err := bs.Put(ctx, []byte("shared across two inodes"))
	require.NoError(t, err)
	require.NoError(t, bs.Incref(ctx, hash)) // a second owner now references it

	require.NoError(t, bs.Decref(ctx, hash)) // first owner releases
	data, err := bs.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared across two inodes"), data)

	require.NoError(t, bs.Decref(ctx, hash)) // second owner releases
	_, err = bs.Get(ctx, hash)
	require.Error(t, err)
}

func TestBlockMapBatching(t *testing.T) {
	owner := bson.NewObjectID()
	hashes := make([][]byte, blockstore.BlocksPerMap+5)
	for i := range hashes {
		hashes[i] = blockstore.Hash([]byte{byte(i), byte(i >> 8)})
	}

	maps := blockstore.Batch(owner, hashes)
	require.Len(t, maps, 2)
	assert.Len(t, maps[0].Hashes, blockstore.BlocksPerMap)
	assert.Len(t, maps[1].Hashes, 5)
	for _, d := range maps[0].Dirty {
		assert.True(t, d)
	}
	assert.True(t, maps[0].Full())
	assert.False(t, maps[1].Full())
}
