package extent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/store/storetest"
)

func hashOf(b byte) []byte {
	h := make([]byte, HashLen)
	for i := range h {
		h[i] = b
	}
	return h
}

func TestSerializeThenDeserializeRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	err := s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: hashOf(1)},
		{Offset: 4096, Len: 4096, Hash: hashOf(2)},
	})
	require.NoError(t, err)

	blocks, err := s.Deserialize(ctx, inodeID, 0, 8192)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, hashOf(1), blocks[0].Hash)
	assert.Equal(t, hashOf(2), blocks[1].Hash)
}

func TestSerializeMergesContiguousEntriesIntoOneExtent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: hashOf(1)},
		{Offset: 4096, Len: 4096, Hash: hashOf(2)},
	}))

	n, err := s.coll.CountDocuments(ctx, bson.M{"inode": inodeID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSerializeSupersedesOverlappingOldExtents(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: hashOf(1)},
	}))
	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: hashOf(2)},
	}))

	blocks, err := s.Deserialize(ctx, inodeID, 0, 4096)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, hashOf(2), blocks[0].Hash)
}

func TestDeserializeClipsBlocksToRequestedRange(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: hashOf(1)},
		{Offset: 4096, Len: 4096, Hash: hashOf(2)},
		{Offset: 8192, Len: 4096, Hash: hashOf(3)},
	}))

	blocks, err := s.Deserialize(ctx, inodeID, 4096, 4096)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, hashOf(2), blocks[0].Hash)
}

func TestDeserializeReturnsSparseRunsWithNilHash(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{
		{Offset: 0, Len: 4096, Hash: nil},
	}))

	blocks, err := s.Deserialize(ctx, inodeID, 0, 4096)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Sparse())
}

func TestDeleteForInodeRemovesAllExtents(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storetest.NewCollection())
	inodeID := bson.NewObjectID()

	require.NoError(t, s.Serialize(ctx, inodeID, []Entry{{Offset: 0, Len: 4096, Hash: hashOf(1)}}))
	require.NoError(t, s.DeleteForInode(ctx, inodeID))

	blocks, err := s.Deserialize(ctx, inodeID, 0, 4096)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestRoundUpPow2(t *testing.T) {
	assert.Equal(t, uint32(1), RoundUpPow2(0))
	assert.Equal(t, uint32(4096), RoundUpPow2(4096))
	assert.Equal(t, uint32(8192), RoundUpPow2(4097))
}
