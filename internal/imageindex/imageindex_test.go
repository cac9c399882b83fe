package imageindex

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/model"
)

// flipBits returns hash with n of its bits flipped, deterministically
// chosen by rng, simulating a lightly-rescaled copy of an original image
// (spec §8 scenario 2).
func flipBits(rng *rand.Rand, hash uint64, n int) uint64 {
	for i := 0; i < n; i++ {
		hash ^= uint64(1) << uint(rng.Intn(64))
	}
	return hash
}

func TestFind_FortyOriginalsFiveRescalesEach(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	var records []model.MediaRecord
	groupOf := make(map[uint32]int)

	nextID := uint32(1)
	for g := 0; g < 40; g++ {
		original := rng.Uint64()
		for copyNum := 0; copyNum < 5; copyNum++ {
			h := original
			if copyNum > 0 {
				h = flipBits(rng, original, 2)
			}
			rec := model.MediaRecord{ID: nextID}
			rec.SetHash(h)
			records = append(records, rec)
			groupOf[nextID] = g
			nextID++
		}
	}

	idx := FromRecords(records)
	params := model.DefaultSearchParams()
	params.DctThreshold = 7
	params.FilterSelf = true

	for _, needle := range records {
		matches, err := idx.Find(needle, params)
		require.NoError(t, err)

		gotGroup := make(map[int]bool)
		for _, m := range matches {
			gotGroup[groupOf[m.MediaID]] = true
		}
		// every match found must belong to the same group as the needle.
		for g := range gotGroup {
			assert.Equal(t, groupOf[needle.ID], g)
		}
	}
}

func TestAddThenRemoveThenFind_ExcludesTombstonedID(t *testing.T) {
	a := model.MediaRecord{ID: 1}
	a.SetHash(0x1111111111111111)
	b := model.MediaRecord{ID: 2}
	b.SetHash(0x1111111111111110)

	idx := New()
	require.NoError(t, idx.Add([]model.MediaRecord{a, b}))
	assert.Equal(t, 2, idx.Len())

	params := model.DefaultSearchParams()
	params.DctThreshold = 5

	matches, err := idx.Find(a, params)
	require.NoError(t, err)
	ids := matchIDs(matches)
	assert.Contains(t, ids, uint32(2))

	require.NoError(t, idx.Remove([]uint32{2}))
	assert.Equal(t, 1, idx.Len())

	matches, err = idx.Find(a, params)
	require.NoError(t, err)
	assert.NotContains(t, matchIDs(matches), uint32(2))
}

func TestSlice_RestrictsSearchSpace(t *testing.T) {
	recs := make([]model.MediaRecord, 5)
	for i := range recs {
		recs[i] = model.MediaRecord{ID: uint32(i + 1)}
		recs[i].SetHash(uint64(i))
	}
	idx := FromRecords(recs)

	sliced := idx.Slice(map[uint32]bool{2: true, 4: true})
	assert.Equal(t, 2, sliced.Len())
}

func matchIDs(matches []model.Match) []uint32 {
	ids := make([]uint32, len(matches))
	for i, m := range matches {
		ids[i] = m.MediaID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
