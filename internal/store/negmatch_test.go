package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/model"
)

func TestNegativeStore_AddAndContainsIsSymmetric(t *testing.T) {
	dir := t.TempDir()
	n := NewNegativeStore(dir)

	ok, err := n.Contains("aaa", "bbb")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, n.Add("aaa", "bbb"))

	ok, err = n.Contains("aaa", "bbb")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = n.Contains("bbb", "aaa")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNegativeStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewNegativeStore(dir)
	require.NoError(t, first.Add("md5a", "md5b"))

	second := NewNegativeStore(dir)
	ok, err := second.Contains("md5a", "md5b")
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err := os.ReadFile(filepath.Join(dir, negFileName))
	require.NoError(t, err)
	assert.Equal(t, "md5a,md5b\n", string(raw))
}

func TestNegativeStore_AddIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	n := NewNegativeStore(dir)

	require.NoError(t, n.Add("a", "b"))
	require.NoError(t, n.Add("a", "b"))
	require.NoError(t, n.Add("b", "a"))

	count, err := n.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNegativeStore_PairsReturnsEachDistinctPairOnce(t *testing.T) {
	dir := t.TempDir()
	n := NewNegativeStore(dir)

	require.NoError(t, n.Add("a", "b"))
	require.NoError(t, n.Add("b", "a")) // same pair, reversed order
	require.NoError(t, n.Add("c", "d"))

	pairs, err := n.Pairs()
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	seen := make(map[model.NegativePair]bool)
	for _, p := range pairs {
		seen[p] = true
	}
	assert.True(t, seen[model.NegativePair{MD5A: "a", MD5B: "b"}] || seen[model.NegativePair{MD5A: "b", MD5B: "a"}])
	assert.True(t, seen[model.NegativePair{MD5A: "c", MD5B: "d"}] || seen[model.NegativePair{MD5A: "d", MD5B: "c"}])
}
