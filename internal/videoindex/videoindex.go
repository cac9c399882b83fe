// Package videoindex implements C4, the video-frame index from spec
// §4.4: frame hashes from every indexed video packed into composite
// (mediaIndex<<16 | frameNumber) keys and bulk-loaded into a clustered
// bit-partition tree (package bittree), supporting an image-to-video
// nearest-frame search (findFrame) and a video-to-video clip-alignment
// search (findVideo).
//
// Grounded on original_source/dctvideoindex.h/.cpp: the media-index
// packing scheme, the low-detail/head-tail frame filtering, and the
// monotonic-frame-alignment scoring for findVideo all follow that file.
package videoindex

import (
	"sort"
	"sync"

	"github.com/cbird/core/internal/bittree"
	"github.com/cbird/core/internal/cerrors"
	"github.com/cbird/core/internal/dcthash"
	"github.com/cbird/core/internal/indexcore"
	"github.com/cbird/core/internal/model"
	"github.com/cbird/core/internal/store"
)

// maxVideos bounds the number of videos one index can hold, since the
// composite key packs a video's position into the upper 16 bits of a
// uint32 payload (spec's "hard limit, shard past this" invariant).
const maxVideos = 1<<16 - 1

// minDetailBits is the "insufficient detail" threshold from spec §4.4.
const minDetailBits = 5

// Index is the C4 video-frame index. It satisfies indexcore.Index via
// Find (image-to-video); FindVideo is the video-to-video counterpart,
// which needs the needle's own frame list and so cannot fit indexcore's
// single-record Find signature.
type Index struct {
	mu sync.RWMutex

	// mediaIDs is indexed by mediaIndex; a zero entry is a tombstoned
	// video whose frames have been removed from tree.
	mediaIDs []uint32
	// framePayloads lets Remove find every composite key a video
	// contributed, without re-deriving them from mediaIndex collisions.
	framePayloads map[uint32][]uint32

	tree *bittree.Tree

	cacheMu sync.Mutex
	cache   map[uint32]*Index
}

// New returns an empty video-frame index.
func New() *Index {
	return &Index{
		tree:          bittree.New(),
		framePayloads: make(map[uint32][]uint32),
		cache:         make(map[uint32]*Index),
	}
}

// Add registers videos with no frame data, the indexcore.Index-compatible
// entry point. Callers that have frame data should use AddVideo instead;
// each record added here takes a mediaIndex slot of its own, and a later
// AddVideo for the same record takes a new slot rather than reusing it.
func (idx *Index) Add(records []model.MediaRecord) error {
	for _, r := range records {
		if err := idx.AddVideo(r, nil, 0); err != nil {
			return err
		}
	}
	return nil
}

// AddVideo ingests one video's frame hashes, filtering low-detail frames
// and, unless the video is too short, its head and tail (spec §4.4).
func (idx *Index) AddVideo(record model.MediaRecord, frames []store.VdxFrame, skipFrames int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.mediaIDs) >= maxVideos {
		return cerrors.ErrInvariant
	}

	// mediaIndex is 1-based: a composite payload of 0 (mediaIndex 0,
	// frameNumber 0) must never occur, since bittree.Tree uses payload 0
	// as its tombstone sentinel.
	mediaIndex := uint32(len(idx.mediaIDs)) + 1
	idx.mediaIDs = append(idx.mediaIDs, record.ID)

	filtered := filterFrames(frames, skipFrames)
	values := make([]bittree.Value, 0, len(filtered))
	payloads := make([]uint32, 0, len(filtered))
	for _, f := range filtered {
		payload := mediaIndex<<16 | uint32(f.FrameNumber)
		values = append(values, bittree.Value{Payload: payload, Hash: f.Hash})
		payloads = append(payloads, payload)
	}
	idx.tree.Insert(values)
	idx.framePayloads[record.ID] = payloads

	idx.invalidateCacheLocked()
	return nil
}

// filterFrames drops low-detail frames, and drops head/tail frames
// within skipFrames of either end unless the video is too short to
// spare them.
func filterFrames(frames []store.VdxFrame, skipFrames int) []store.VdxFrame {
	n := len(frames)
	keepEnds := n <= 2*skipFrames

	out := make([]store.VdxFrame, 0, n)
	for i, f := range frames {
		if dcthash.LowDetail(f.Hash, minDetailBits) {
			continue
		}
		if !keepEnds && (i < skipFrames || i >= n-skipFrames) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Remove tombstones the given video ids: their frames are removed from
// the bit-partition tree and their mediaIndex slot is zeroed.
func (idx *Index) Remove(ids []uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	set := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		set[id] = true
		if payloads := idx.framePayloads[id]; len(payloads) > 0 {
			payloadSet := make(map[uint32]bool, len(payloads))
			for _, p := range payloads {
				payloadSet[p] = true
			}
			idx.tree.Remove(payloadSet)
		}
		delete(idx.framePayloads, id)
	}
	for i, id := range idx.mediaIDs {
		if set[id] {
			idx.mediaIDs[i] = 0
		}
	}
	idx.invalidateCacheLocked()
	return nil
}

// Find implements the image-to-video search (findFrame): the single
// nearest frame of each candidate video, per spec §4.4.
func (idx *Index) Find(needle model.MediaRecord, params model.SearchParams) ([]model.Match, error) {
	idx.mu.RLock()
	tree, mediaIDs := idx.tree, idx.mediaIDs
	idx.mu.RUnlock()

	hits := tree.Search(needle.Hash(), params.DctThreshold)

	best := make(map[uint32]model.Match)
	for _, h := range hits {
		mediaIndex := h.Value.Payload >> 16
		if mediaIndex == 0 || int(mediaIndex) > len(mediaIDs) {
			continue
		}
		id := mediaIDs[mediaIndex-1]
		if id == 0 || (params.Target != 0 && id != params.Target) {
			continue
		}
		if params.FilterSelf && id == needle.ID {
			continue
		}
		frameNumber := int(h.Value.Payload & 0xFFFF)
		if cur, ok := best[id]; !ok || h.Distance < cur.Score {
			// Range length stays 1: a findFrame hit is a single aligned
			// frame, not a clip (spec §4.4 Open Question decision).
			best[id] = model.Match{MediaID: id, Score: h.Distance, Range: model.MatchRange{DstIn: frameNumber, Len: 1}}
		}
	}

	matches := make([]model.Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	return matches, nil
}

// FindVideo implements the video-to-video search (findVideo): for each
// candidate video, count how many needle frames matched and how many of
// those matches land at strictly increasing candidate frame numbers as
// the needle frame number advances. A video matched against itself aligns
// perfectly (percentNear=100, score=0).
func (idx *Index) FindVideo(needleFrames []store.VdxFrame, params model.SearchParams) ([]model.Match, error) {
	idx.mu.RLock()
	tree, mediaIDs := idx.tree, idx.mediaIDs
	idx.mu.RUnlock()

	type hit struct {
		srcFrame       int
		candidateFrame int
	}
	byVideo := make(map[uint32][]hit)

	for _, f := range needleFrames {
		for _, h := range tree.Search(f.Hash, params.DctThreshold) {
			mediaIndex := h.Value.Payload >> 16
			if mediaIndex == 0 || int(mediaIndex) > len(mediaIDs) {
				continue
			}
			id := mediaIDs[mediaIndex-1]
			if id == 0 || (params.Target != 0 && id != params.Target) {
				continue
			}
			frameNumber := int(h.Value.Payload & 0xFFFF)
			byVideo[id] = append(byVideo[id], hit{srcFrame: int(f.FrameNumber), candidateFrame: frameNumber})
		}
	}

	var matches []model.Match
	for id, hits := range byVideo {
		sort.Slice(hits, func(i, j int) bool { return hits[i].srcFrame < hits[j].srcFrame })

		num := len(hits)
		numAscending := 0
		prevFrame := -1
		firstSrc, lastSrc := hits[0].srcFrame, hits[0].srcFrame
		firstDst, lastDst := hits[0].candidateFrame, hits[0].candidateFrame
		for _, h := range hits {
			if h.candidateFrame > prevFrame {
				numAscending++
			}
			prevFrame = h.candidateFrame

			if h.srcFrame < firstSrc {
				firstSrc = h.srcFrame
			}
			if h.srcFrame > lastSrc {
				lastSrc = h.srcFrame
			}
			if h.candidateFrame < firstDst {
				firstDst = h.candidateFrame
			}
			if h.candidateFrame > lastDst {
				lastDst = h.candidateFrame
			}
		}
		percentNear := 100 * numAscending / num

		if num > params.MinFramesMatched && percentNear > params.MinFramesNearPct {
			length := lastSrc - firstSrc
			if d := lastDst - firstDst; d > length {
				length = d
			}
			matches = append(matches, model.Match{
				MediaID: id,
				Score:   100 - percentNear,
				Range:   model.MatchRange{SrcIn: hits[0].srcFrame, DstIn: hits[0].candidateFrame, Len: length},
			})
		}
	}
	return matches, nil
}

// Slice returns a new Index restricted to the given video ids. The
// mediaIndex assignment of every video is preserved so its composite
// keys remain valid in the sliced tree.
func (idx *Index) Slice(ids map[uint32]bool) indexcore.Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := &Index{
		mediaIDs:      append([]uint32(nil), idx.mediaIDs...),
		framePayloads: make(map[uint32][]uint32),
		cache:         make(map[uint32]*Index),
	}
	for i, id := range out.mediaIDs {
		if id != 0 && !ids[id] {
			out.mediaIDs[i] = 0
		}
	}

	payloadSet := make(map[uint32]bool)
	for id := range ids {
		payloads, ok := idx.framePayloads[id]
		if !ok {
			continue
		}
		out.framePayloads[id] = append([]uint32(nil), payloads...)
		for _, p := range payloads {
			payloadSet[p] = true
		}
	}
	out.tree = idx.tree.Slice(payloadSet)
	return out
}

// CachedSlice returns (building and caching if necessary) the subtree
// restricted to one target video, for repeated findVideo calls against
// the same target. Per the Open Question decision recorded in
// SPEC_FULL.md, any mutation clears the whole cache rather than tracking
// per-entry staleness.
func (idx *Index) CachedSlice(target uint32) *Index {
	idx.cacheMu.Lock()
	defer idx.cacheMu.Unlock()

	if c, ok := idx.cache[target]; ok {
		return c
	}
	c := idx.Slice(map[uint32]bool{target: true}).(*Index)
	idx.cache[target] = c
	return c
}

func (idx *Index) invalidateCacheLocked() {
	idx.cacheMu.Lock()
	idx.cache = make(map[uint32]*Index)
	idx.cacheMu.Unlock()
}

// Len reports the number of live (non-tombstoned) videos.
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
