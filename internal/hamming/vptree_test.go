package hamming

import (
	"math/bits"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_FourHashesScenario(t *testing.T) {
	// spec §8 scenario 1.
	items := []Value{
		{Index: 1, Hash: 0x0000000000000000},
		{Index: 2, Hash: 0xFFFFFFFFFFFFFFFF},
		{Index: 3, Hash: 0x0F00000000000000},
		{Index: 4, Hash: 0xF0F0F0F0F0F0F0F0},
	}
	tr := Build(items)

	m1 := tr.Search(0x0, 4)
	require.Len(t, m1, 1)
	assert.Equal(t, uint32(1), m1[0].Value.Index)
	assert.Equal(t, 0, m1[0].Distance)

	m2 := tr.Search(0x0, 17)
	require.Len(t, m2, 2)
	assert.Equal(t, uint32(1), m2[0].Value.Index)
	assert.Equal(t, 0, m2[0].Distance)
	assert.Equal(t, uint32(3), m2[1].Value.Index)
	assert.Equal(t, 4, m2[1].Distance)
}

func TestSearch_MonotoneOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	items := make([]Value, 500)
	for i := range items {
		items[i] = Value{Index: uint32(i + 1), Hash: rng.Uint64()}
	}
	tr := Build(items)

	q := rng.Uint64()
	matches := tr.Search(q, 20)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
}

func TestSearch_CorrectnessAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 10000
	items := make([]Value, n)
	for i := range items {
		items[i] = Value{Index: uint32(i + 1), Hash: rng.Uint64()}
	}
	tr := Build(items)

	for trial := 0; trial < 20; trial++ {
		q := rng.Uint64()
		threshold := 2 + rng.Intn(8)

		want := []uint32{}
		for _, v := range items {
			if bits.OnesCount64(v.Hash^q) < threshold {
				want = append(want, v.Index)
			}
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		got := tr.Search(q, threshold)
		gotIdx := make([]uint32, len(got))
		for i, m := range got {
			gotIdx[i] = m.Value.Index
		}
		sort.Slice(gotIdx, func(i, j int) bool { return gotIdx[i] < gotIdx[j] })

		assert.Equal(t, want, gotIdx)
	}
}

func TestSearch_Empty(t *testing.T) {
	tr := Build(nil)
	assert.Empty(t, tr.Search(0, 10))
	assert.Equal(t, 0, tr.Size())
}
