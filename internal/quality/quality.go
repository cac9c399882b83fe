// Package quality implements C5, the no-reference quality-score
// pipeline from spec §4.8: an edge-density metric over a decoded image's
// luminance plane, tiled across row ranges and reduced in parallel.
//
// Grounded on the algorithm description in spec §4.8 and the
// "with blur/noise" evolved variant called out in spec §10's REDESIGN
// FLAGS (the later, more-evolved file in the original source); the
// borrow from the example pack is structural: package workerpool
// (itself grounded on golang.org/x/sync, the concurrency library every
// example repo that fans out work reaches for) supplies the tile-level
// parallelism spec §5 asks C5 to share with the query orchestrator.
package quality

import (
	"context"
	"image"
	"sync"

	"github.com/cbird/core/internal/workerpool"
)

// tileTargetBytes sizes a tile to roughly 32KB of 8-bit luminance, per spec §4.8.
const tileTargetBytes = 32 * 1024

// Score is the result of scoring one decoded image.
type Score struct {
	// Value is 100*edge_ratio + 100*long_edge_ratio (spec §4.8 step 5).
	Value float64
	// BlurRatio is the supplemented "with blur/noise" signal (SPEC_FULL's
	// quality-score decision): the fraction of border-cropped pixels whose
	// horizontal and vertical diff both sit at or below a noise floor, an evolved-path
	// reading of the original's blur/noise variant.
	BlurRatio float64
}

// luma is an 8-bit grayscale plane, [h][w] row-major.
type luma struct {
	w, h int
	px   []byte
}

func (l *luma) at(x, y int) int {
	if x < 0 {
		x = 0
	}
	if x >= l.w {
		x = l.w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= l.h {
		y = l.h - 1
	}
	return int(l.px[y*l.w+x])
}

func toLuma(img image.Image) *luma {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	l := &luma{w: w, h: h, px: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma weights on the 16-bit channel values.
			y16 := (299*r + 587*g + 114*bl) / 1000
			l.px[y*w+x] = byte(y16 >> 8)
		}
	}
	return l
}

// crop returns a 10%-border-cropped view (spec §4.8 "after a 10% border
// crop").
func crop(l *luma) *luma {
	mx := l.w / 10
	my := l.h / 10
	w, h := l.w-2*mx, l.h-2*my
	if w <= 0 || h <= 0 {
		return l
	}
	out := &luma{w: w, h: h, px: make([]byte, w*h)}
	for y := 0; y < h; y++ {
		copy(out.px[y*w:(y+1)*w], l.px[(y+my)*l.w+mx:(y+my)*l.w+mx+w])
	}
	return out
}

// Compute scores img per spec §4.8. The two diff passes are tiled across
// pool; the two edge/long-edge passes run on the calling goroutine.
func Compute(ctx context.Context, pool *workerpool.Pool, img image.Image) (Score, error) {
	l := crop(toLuma(img))
	if l.w == 0 || l.h == 0 {
		return Score{}, nil
	}

	diffH, meanH, err := tiledDiff(ctx, pool, l, horizontal)
	if err != nil {
		return Score{}, err
	}
	diffV, meanV, err := tiledDiff(ctx, pool, l, vertical)
	if err != nil {
		return Score{}, err
	}

	edgeH, longH := edgesAndLongEdges(diffH, l.w, l.h, meanH, horizontal)
	edgeV, longV := edgesAndLongEdges(diffV, l.w, l.h, meanV, vertical)

	numEdges := edgeH + edgeV
	longEdges := longH + longV
	area := l.w * l.h

	var edgeRatio, longEdgeRatio float64
	if area > 0 {
		edgeRatio = float64(numEdges) / float64(area)
	}
	if numEdges > 0 {
		longEdgeRatio = float64(longEdges) / float64(numEdges)
	}

	return Score{
		Value:     100*edgeRatio + 100*longEdgeRatio,
		BlurRatio: blurRatio(l, diffH, diffV),
	}, nil
}

type axis int

const (
	horizontal axis = iota
	vertical
)

// tiledDiff computes diff_h or diff_v tiled into ~32KB row ranges run on
// pool, returning the per-pixel diff plane and its mean.
func tiledDiff(ctx context.Context, pool *workerpool.Pool, l *luma, dir axis) ([]int, float64, error) {
	diff := make([]int, l.w*l.h)

	rowsPerTile := tileTargetBytes / l.w
	if rowsPerTile < 1 {
		rowsPerTile = 1
	}
	numTiles := (l.h + rowsPerTile - 1) / rowsPerTile

	var mu sync.Mutex
	var total int64

	err := pool.RunIndexed(ctx, numTiles, func(_ context.Context, tileIdx int) error {
		y0 := tileIdx * rowsPerTile
		y1 := y0 + rowsPerTile
		if y1 > l.h {
			y1 = l.h
		}

		var partial int64
		for y := y0; y < y1; y++ {
			for x := 0; x < l.w; x++ {
				var d int
				if dir == horizontal {
					d = abs(l.at(x-1, y) - l.at(x+1, y))
				} else {
					d = abs(l.at(x, y-1) - l.at(x, y+1))
				}
				diff[y*l.w+x] = d
				partial += int64(d)
			}
		}

		mu.Lock()
		total += partial
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	mean := float64(0)
	if l.w*l.h > 0 {
		mean = float64(total) / float64(l.w*l.h)
	}
	return diff, mean, nil
}

// edgesAndLongEdges builds the edge mask (local-max-over-diff>mean) then
// counts pixels belonging to runs longer than 1 under 3x3 connectivity
// (spec §4.8 steps 2 and 4). The H-pass mask carries one more internal
// transpose than the V-pass by the time its run count happens, so their
// long-edge connectivity axes are swapped relative to their local-max
// axes; dir selects both.
func edgesAndLongEdges(diff []int, w, h int, mean float64, dir axis) (numEdges, longEdges int) {
	mask := make([]bool, w*h)

	at := func(x, y int) int {
		if x < 0 || x >= w || y < 0 || y >= h {
			return -1
		}
		return diff[y*w+x]
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := at(x, y)
			if float64(d) <= mean {
				continue
			}
			var isLocalMax bool
			if dir == horizontal {
				isLocalMax = d >= at(x-1, y) && d >= at(x+1, y)
			} else {
				isLocalMax = d >= at(x, y-1) && d >= at(x, y+1)
			}
			if isLocalMax {
				mask[y*w+x] = true
				numEdges++
			}
		}
	}

	maskAt := func(x, y int) bool {
		if x < 0 || x >= w || y < 0 || y >= h {
			return false
		}
		return mask[y*w+x]
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			// 3x3 connectivity, checked along the axis orthogonal to
			// this pass's own local-max axis: the H-pass mask gets an
			// extra transpose relative to the V-pass before its run
			// count, so the H-pass connectivity neighbor is y±1 and
			// only the V-pass checks x±1.
			var connected bool
			if dir == horizontal {
				connected = maskAt(x-1, y-1) || maskAt(x, y-1) || maskAt(x+1, y-1) ||
					maskAt(x-1, y+1) || maskAt(x, y+1) || maskAt(x+1, y+1)
			} else {
				connected = maskAt(x-1, y) || maskAt(x+1, y) ||
					maskAt(x-1, y-1) || maskAt(x+1, y+1) ||
					maskAt(x-1, y+1) || maskAt(x+1, y-1)
			}
			if connected {
				longEdges++
			}
		}
	}
	return numEdges, longEdges
}

// blurRatio is the supplemented blur/noise signal: the fraction of
// pixels where neither the horizontal nor the vertical diff rises above
// a small noise floor, i.e. flat/blurred regions.
func blurRatio(l *luma, diffH, diffV []int) float64 {
	const noiseFloor = 4
	area := l.w * l.h
	if area == 0 {
		return 0
	}
	flat := 0
	for i := 0; i < area; i++ {
		if diffH[i] <= noiseFloor && diffV[i] <= noiseFloor {
			flat++
		}
	}
	return float64(flat) / float64(area)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
