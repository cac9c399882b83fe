package bittree

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSearch_ExactHit(t *testing.T) {
	tr := New()
	tr.Insert([]Value{
		{Payload: 1, Hash: 0x0000000000000000},
		{Payload: 2, Hash: 0xFFFFFFFFFFFFFFFF},
	})

	matches := tr.Search(0x0000000000000000, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(1), matches[0].Value.Payload)
	assert.Equal(t, 0, matches[0].Distance)
}

func TestInsert_SplitsLeafPastClusterCap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]Value, clusterCap+500)
	for i := range values {
		values[i] = Value{Payload: uint32(i + 1), Hash: rng.Uint64()}
	}

	tr := New()
	tr.Insert(values)

	st := tr.ComputeStats()
	assert.Equal(t, len(values), st.NumValues)
	assert.Greater(t, st.NumNodes, 1, "leaf should have split once the cluster cap was exceeded")
}

func TestRemove_Tombstones(t *testing.T) {
	tr := New()
	tr.Insert([]Value{
		{Payload: 1, Hash: 0x00FF00FF00FF00FF},
		{Payload: 2, Hash: 0x00FF00FF00FF00FE},
	})

	tr.Remove(map[uint32]bool{1: true})

	// the tombstone keeps its slot with payload 0 and hash 0.
	matches := tr.Search(0x0000000000000000, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(0), matches[0].Value.Payload)
}

func TestSlice_RestrictsToPayloadSet(t *testing.T) {
	tr := New()
	tr.Insert([]Value{
		{Payload: 1, Hash: 0xAAAAAAAAAAAAAAAA},
		{Payload: 2, Hash: 0xBBBBBBBBBBBBBBBB},
		{Payload: 3, Hash: 0xCCCCCCCCCCCCCCCC},
	})

	sliced := tr.Slice(map[uint32]bool{2: true})

	assert.Equal(t, 1, sliced.Size())
	m := sliced.Search(0xBBBBBBBBBBBBBBBB, 1)
	require.Len(t, m, 1)
	assert.Equal(t, uint32(2), m[0].Value.Payload)

	assert.Empty(t, sliced.Search(0xAAAAAAAAAAAAAAAA, 1))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := make([]Value, clusterCap*2+50)
	for i := range values {
		values[i] = Value{Payload: uint32(i + 1), Hash: rng.Uint64()}
	}

	tr := New()
	tr.Insert(values)
	wantStats := tr.ComputeStats()

	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, wantStats, loaded.ComputeStats())

	for _, v := range values[:20] {
		before := tr.Search(v.Hash, 1)
		after := loaded.Search(v.Hash, 1)
		assert.ElementsMatch(t, before, after)
	}
}

func TestSaveLoad_Empty(t *testing.T) {
	tr := New()
	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Size())
	assert.Empty(t, loaded.Search(0, 10))
}
