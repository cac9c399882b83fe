package templatematch

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/dcthash"
	"github.com/cbird/core/internal/model"
)

func gradientImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	return img
}

func TestMatch_IdenticalImageConfirms(t *testing.T) {
	img := gradientImage(64, 64)
	hash, err := dcthash.Compute(img)
	require.NoError(t, err)

	needle := model.MediaRecord{ID: 1, MD5: "needle-md5"}
	cand := model.MediaRecord{ID: 2, MD5: "cand-md5"}
	cand.SetHash(hash)

	group := model.MatchGroup{{Record: cand}}
	m := New()
	m.Match(img, needle, &group, map[uint32]image.Image{cand.ID: img})

	require.Len(t, group, 1)
	assert.NotNil(t, group[0].ROI)
	assert.NotNil(t, group[0].Transform)
}

func TestMatch_MissingCandidateImageLeavesEntryUntouched(t *testing.T) {
	img := gradientImage(32, 32)
	needle := model.MediaRecord{ID: 1, MD5: "needle-md5"}
	cand := model.MediaRecord{ID: 2, MD5: "cand-md5"}

	group := model.MatchGroup{{Record: cand}}
	m := New()
	m.Match(img, needle, &group, map[uint32]image.Image{})

	require.Len(t, group, 1)
	assert.Nil(t, group[0].ROI)
}

func TestMatch_CachesVerdictAcrossCalls(t *testing.T) {
	img := gradientImage(32, 32)
	hash, err := dcthash.Compute(img)
	require.NoError(t, err)

	needle := model.MediaRecord{ID: 1, MD5: "n"}
	cand := model.MediaRecord{ID: 2, MD5: "c"}
	cand.SetHash(hash)

	m := New()
	images := map[uint32]image.Image{cand.ID: img}

	g1 := model.MatchGroup{{Record: cand}}
	m.Match(img, needle, &g1, images)
	require.Len(t, g1, 1)

	key := cacheKey{needleMD5: "n", candidateMD5: "c"}
	m.mu.RLock()
	_, cached := m.cache[key]
	m.mu.RUnlock()
	assert.True(t, cached)

	g2 := model.MatchGroup{{Record: cand}}
	m.Match(img, needle, &g2, images)
	require.Len(t, g2, 1)
}
