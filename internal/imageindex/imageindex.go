// Package imageindex implements C3, the image-hash index from spec
// §4.3: a dense (hash, media id) array backed by a Hamming vantage-point
// tree (package hamming), with tombstone-based soft deletes and lazy
// tree rebuilding.
//
// Grounded on original_source/dcthashindex.h/.cpp, which keeps the same
// parallel id/hash arrays and only rebuilds its VPTree on the next
// query after a mutation, rather than on every Add/Remove.
package imageindex

import (
	"sync"

	"github.com/cbird/core/internal/hamming"
	"github.com/cbird/core/internal/indexcore"
	"github.com/cbird/core/internal/model"
)

// Index is the C3 image-hash index. It satisfies indexcore.Index.
type Index struct {
	mu sync.RWMutex

	hashes   []uint64
	mediaIDs []uint32

	tree  *hamming.Tree
	dirty bool
}

// New returns an empty image-hash index.
func New() *Index {
	return &Index{dirty: true}
}

// FromRecords builds an index from already-hashed records in one Add
// call — used when loading a whole store scan.
func FromRecords(records []model.MediaRecord) *Index {
	idx := New()
	idx.Add(records)
	return idx
}

// Add appends newly-scanned media to the dense arrays and marks the
// search tree dirty; the tree is not rebuilt until the next Find.
func (idx *Index) Add(records []model.MediaRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, r := range records {
		idx.hashes = append(idx.hashes, r.Hash())
		idx.mediaIDs = append(idx.mediaIDs, r.ID)
	}
	idx.dirty = true
	return nil
}

// Remove tombstones the given media ids (hash/id zeroed in place) and
// marks the tree dirty so the next query rebuilds without them.
func (idx *Index) Remove(ids []uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	set := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i, id := range idx.mediaIDs {
		if set[id] {
			idx.mediaIDs[i] = 0
			idx.hashes[i] = 0
		}
	}
	idx.dirty = true
	return nil
}

// ensureTree rebuilds the VP-tree from the live (non-tombstoned) entries
// if the index has been mutated since the last build.
func (idx *Index) ensureTree() {
	if !idx.dirty {
		return
	}
	values := make([]hamming.Value, 0, len(idx.mediaIDs))
	for i, id := range idx.mediaIDs {
		if id == 0 {
			continue
		}
		values = append(values, hamming.Value{Index: id, Hash: idx.hashes[i]})
	}
	idx.tree = hamming.Build(values)
	idx.dirty = false
}

// Find returns every live media id within DctThreshold of needle's hash.
func (idx *Index) Find(needle model.MediaRecord, params model.SearchParams) ([]model.Match, error) {
	idx.mu.Lock()
	idx.ensureTree()
	tree := idx.tree
	idx.mu.Unlock()

	hits := tree.Search(needle.Hash(), params.DctThreshold)
	matches := make([]model.Match, 0, len(hits))
	for _, h := range hits {
		if params.FilterSelf && h.Value.Index == needle.ID {
			continue
		}
		matches = append(matches, model.Match{MediaID: h.Value.Index, Score: h.Distance})
	}
	return matches, nil
}

// Slice returns a new Index containing only the given media ids.
func (idx *Index) Slice(ids map[uint32]bool) indexcore.Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := New()
	for i, id := range idx.mediaIDs {
		if id != 0 && ids[id] {
			out.hashes = append(out.hashes, idx.hashes[i])
			out.mediaIDs = append(out.mediaIDs, id)
		}
	}
	out.dirty = true
	return out
}

// Len reports the number of live (non-tombstoned) entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := 0
	for _, id := range idx.mediaIDs {
		if id != 0 {
			n++
		}
	}
	return n
}
