package quality

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/workerpool"
)

func solidImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// stepImage is dark on the left half, bright on the right: a single
// sharp vertical edge rather than a period-2 pattern (which would make
// diff_h cancel out, since img[x-1,y] and img[x+1,y] share parity).
func stepImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if x >= w/2 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestCompute_SolidImageHasZeroScore(t *testing.T) {
	pool := workerpool.New(2)
	img := solidImage(64, 64, 128)

	score, err := Compute(context.Background(), pool, img)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Value)
	assert.Greater(t, score.BlurRatio, 0.9)
}

func TestCompute_StepEdgeHasHigherScoreThanSolid(t *testing.T) {
	pool := workerpool.New(2)

	solid, err := Compute(context.Background(), pool, solidImage(64, 64, 128))
	require.NoError(t, err)

	step, err := Compute(context.Background(), pool, stepImage(64, 64))
	require.NoError(t, err)

	assert.Greater(t, step.Value, solid.Value)
	assert.Less(t, step.BlurRatio, solid.BlurRatio)
}

func TestCompute_TinyImageDoesNotError(t *testing.T) {
	pool := workerpool.New(1)
	img := solidImage(1, 1, 10)

	score, err := Compute(context.Background(), pool, img)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Value)
}
