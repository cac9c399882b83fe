package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/cerrors"
)

func TestVdx_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	frames := []VdxFrame{
		{FrameNumber: 0, Hash: 0x1},
		{FrameNumber: 5, Hash: 0xDEADBEEF},
		{FrameNumber: 9, Hash: 0xFFFFFFFFFFFFFFFF},
	}

	require.NoError(t, WriteVdx(dir, 42, frames))

	got, err := ReadVdx(dir, 42)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestVdx_MissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadVdx(dir, 7)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestVdx_EmptyFrameSet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteVdx(dir, 1, nil))

	got, err := ReadVdx(dir, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
