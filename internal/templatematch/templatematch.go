// Package templatematch implements C6, the geometric validator from
// spec §4.6: given a needle image and a candidate group produced by the
// fuzzy index, estimate a rigid transform mapping needle to candidate
// and confirm it by comparing the DCT hash of the warped region against
// the candidate's stored hash.
//
// Grounded on the contract in spec §4.6 ("estimates a rigid transform
// using a large set of local features") and on the corpus-wide absence
// of any computer-vision library (no gocv/opencv binding appears in any
// _examples/ go.mod — see DESIGN.md): rather than fabricate a dependency
// the pack never uses, this is a from-scratch coarse search over
// scale/rotation/translation, scored by sum-of-absolute-differences on a
// downsampled luminance grid, with the DCT-hash check as the final gate.
// It tolerates scale, translation, and rotation; it does not attempt
// mirroring, perspective, or occlusion, matching the contract exactly.
package templatematch

import (
	"image"
	"math"
	"sync"

	"github.com/cbird/core/internal/dcthash"
	"github.com/cbird/core/internal/model"
)

// gridSize is the side length of the downsampled grid used to score
// candidate transforms; small enough to make a few hundred transform
// trials per pair cheap.
const gridSize = 16

// hashThreshold is the Hamming distance below which a warped ROI's DCT
// hash is considered to confirm the candidate (spec §4.6's "checks the
// transform's validity by comparing... hashes").
const hashThreshold = 10

var scales = []float64{0.7, 0.85, 1.0, 1.15, 1.3}
var rotationsDeg = []float64{-10, -5, 0, 5, 10}

type cacheKey struct {
	needleMD5    string
	candidateMD5 string
}

type cacheEntry struct {
	ok        bool
	roi       [4][2]float64
	transform model.AffineTransform
}

// Matcher validates candidate groups and memoizes verdicts per
// (needle.md5, candidate.md5) pair, per spec §4.6's cache contract.
type Matcher struct {
	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// New returns an empty matcher.
func New() *Matcher {
	return &Matcher{cache: make(map[cacheKey]cacheEntry)}
}

// Match validates group in place against needleImg: entries whose
// transform fails to confirm are removed; entries that pass have ROI
// and Transform populated. images supplies the decoded image for each
// candidate's media id (decoding itself is scanner territory, out of
// scope here).
func (m *Matcher) Match(needleImg image.Image, needle model.MediaRecord, group *model.MatchGroup, images map[uint32]image.Image) {
	needleGrid := buildGrid(needleImg)

	kept := make(model.MatchGroup, 0, len(*group))
	for _, cand := range *group {
		if cand.Record.ID == needle.ID {
			kept = append(kept, cand)
			continue
		}

		candImg, ok := images[cand.Record.ID]
		if !ok {
			// No decoded pixels available for this candidate; leave the
			// fuzzy-index verdict untouched rather than rejecting it.
			kept = append(kept, cand)
			continue
		}

		entry, ok := m.lookupOrCompute(needle.MD5, cand.Record.MD5, needleGrid, needleImg, candImg, cand.Record)
		if !ok {
			continue
		}
		cand.ROI = &entry.roi
		tr := entry.transform
		cand.Transform = &tr
		kept = append(kept, cand)
	}
	*group = kept
}

func (m *Matcher) lookupOrCompute(needleMD5, candidateMD5 string, needleGrid []float64, needleImg, candImg image.Image, cand model.MediaRecord) (cacheEntry, bool) {
	key := cacheKey{needleMD5: needleMD5, candidateMD5: candidateMD5}

	m.mu.RLock()
	if e, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return e, e.ok
	}
	m.mu.RUnlock()

	entry := m.compute(needleGrid, needleImg, candImg, cand)

	m.mu.Lock()
	m.cache[key] = entry
	m.mu.Unlock()

	return entry, entry.ok
}

func (m *Matcher) compute(needleGrid []float64, needleImg, candImg image.Image, cand model.MediaRecord) cacheEntry {
	cb := candImg.Bounds()
	nb := needleImg.Bounds()

	best := math.MaxFloat64
	var bestT transform

	for _, scale := range scales {
		for _, rot := range rotationsDeg {
			t := transform{scale: scale, rotation: rot * math.Pi / 180}
			for _, tx := range translationCandidates(cb.Dx()) {
				for _, ty := range translationCandidates(cb.Dy()) {
					t.tx, t.ty = float64(tx), float64(ty)
					sad := scoreTransform(needleGrid, nb, candImg, cb, t)
					if sad < best {
						best = sad
						bestT = t
					}
				}
			}
		}
	}

	roi := roiFor(nb, bestT, cb)
	hash, err := dcthash.Compute(warpedROI(candImg, roi))
	if err != nil {
		return cacheEntry{ok: false}
	}

	if dcthash.Hamming(hash, cand.Hash()) >= hashThreshold {
		return cacheEntry{ok: false}
	}

	return cacheEntry{
		ok:  true,
		roi: roi,
		transform: model.AffineTransform{
			A: bestT.scale * math.Cos(bestT.rotation), B: -bestT.scale * math.Sin(bestT.rotation),
			C: bestT.scale * math.Sin(bestT.rotation), D: bestT.scale * math.Cos(bestT.rotation),
			TX: bestT.tx, TY: bestT.ty,
		},
	}
}

type transform struct {
	scale, rotation, tx, ty float64
}

func translationCandidates(extent int) []int {
	if extent <= 0 {
		return []int{0}
	}
	steps := 5
	out := make([]int, 0, steps)
	for i := 0; i < steps; i++ {
		out = append(out, i*extent/steps)
	}
	return out
}

// buildGrid downsamples img to a gridSize x gridSize luminance grid,
// normalized to [0,1].
func buildGrid(img image.Image) []float64 {
	b := img.Bounds()
	grid := make([]float64, gridSize*gridSize)
	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			sx := b.Min.X + gx*b.Dx()/gridSize
			sy := b.Min.Y + gy*b.Dy()/gridSize
			r, g, bl, _ := img.At(sx, sy).RGBA()
			grid[gy*gridSize+gx] = float64((299*r+587*g+114*bl)/1000) / 65535.0
		}
	}
	return grid
}

// scoreTransform maps each needle grid sample through t into candidate
// space and returns the sum of absolute luminance differences.
func scoreTransform(needleGrid []float64, nb image.Rectangle, candImg image.Image, cb image.Rectangle, t transform) float64 {
	cosR, sinR := math.Cos(t.rotation), math.Sin(t.rotation)
	var sad float64
	samples := 0

	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			nx := float64(gx) / float64(gridSize) * float64(nb.Dx())
			ny := float64(gy) / float64(gridSize) * float64(nb.Dy())

			wx := t.scale*(cosR*nx-sinR*ny) + t.tx
			wy := t.scale*(sinR*nx+cosR*ny) + t.ty

			cx := cb.Min.X + int(wx)
			cy := cb.Min.Y + int(wy)
			if cx < cb.Min.X || cx >= cb.Max.X || cy < cb.Min.Y || cy >= cb.Max.Y {
				sad += 1.0 // out-of-bounds penalty
				continue
			}

			r, g, bl, _ := candImg.At(cx, cy).RGBA()
			lum := float64((299*r+587*g+114*bl)/1000) / 65535.0
			sad += math.Abs(lum - needleGrid[gy*gridSize+gx])
			samples++
		}
	}
	if samples == 0 {
		return math.MaxFloat64
	}
	return sad
}

// roiFor maps the needle's four corners through t into candidate
// coordinates, giving the four-point ROI spec §4.6 asks for.
func roiFor(nb image.Rectangle, t transform, cb image.Rectangle) [4][2]float64 {
	cosR, sinR := math.Cos(t.rotation), math.Sin(t.rotation)
	corners := [4][2]float64{
		{0, 0}, {float64(nb.Dx()), 0}, {float64(nb.Dx()), float64(nb.Dy())}, {0, float64(nb.Dy())},
	}
	var roi [4][2]float64
	for i, c := range corners {
		wx := t.scale*(cosR*c[0]-sinR*c[1]) + t.tx
		wy := t.scale*(sinR*c[0]+cosR*c[1]) + t.ty
		roi[i] = [2]float64{float64(cb.Min.X) + wx, float64(cb.Min.Y) + wy}
	}
	return roi
}

// warpedROI crops candImg to the axis-aligned bounding box of roi, the
// region the DCT hash confirmation step rehashes.
func warpedROI(candImg image.Image, roi [4][2]float64) image.Image {
	minX, minY := roi[0][0], roi[0][1]
	maxX, maxY := roi[0][0], roi[0][1]
	for _, p := range roi[1:] {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}

	b := candImg.Bounds()
	rect := image.Rect(clampInt(int(minX), b.Min.X, b.Max.X), clampInt(int(minY), b.Min.Y, b.Max.Y),
		clampInt(int(maxX), b.Min.X, b.Max.X), clampInt(int(maxY), b.Min.Y, b.Max.Y))
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return candImg
	}

	sub, ok := candImg.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return candImg
	}
	return sub.SubImage(rect)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
