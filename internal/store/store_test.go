package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbird/core/internal/cerrors"
	"github.com/cbird/core/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAdd_AssignsIDAndRejectsDuplicatePath(t *testing.T) {
	s := openTestStore(t)

	rec := &model.MediaRecord{Type: model.TypeImage, RelativePath: "a/one.jpg"}
	require.NoError(t, s.Add(rec))
	assert.NotZero(t, rec.ID)

	dup := &model.MediaRecord{Type: model.TypeImage, RelativePath: "a/one.jpg"}
	err := s.Add(dup)
	assert.ErrorIs(t, err, cerrors.ErrConflict)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(999)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestRemove_DeletesRecordAndAux(t *testing.T) {
	s := openTestStore(t)

	rec := &model.MediaRecord{Type: model.TypeImage, RelativePath: "x.jpg"}
	require.NoError(t, s.Add(rec))
	require.NoError(t, s.SetAux(rec.ID, model.AlgoDctImage, []byte("aux")))

	require.NoError(t, s.Remove(rec.ID))

	_, err := s.Get(rec.ID)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)

	_, err = s.Aux(rec.ID, model.AlgoDctImage)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)

	assert.ErrorIs(t, s.Remove(rec.ID), cerrors.ErrNotFound)
}

func TestAll_FiltersByType(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeImage, RelativePath: "img.jpg"}))
	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeVideo, RelativePath: "vid.mp4"}))

	images, err := s.All([]model.MediaType{model.TypeImage})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "img.jpg", images[0].RelativePath)

	all, err := s.All(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMove_RejectsCollidingPath(t *testing.T) {
	s := openTestStore(t)

	a := &model.MediaRecord{Type: model.TypeImage, RelativePath: "a.jpg"}
	b := &model.MediaRecord{Type: model.TypeImage, RelativePath: "b.jpg"}
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	err := s.Move(a.ID, "b.jpg")
	assert.ErrorIs(t, err, cerrors.ErrConflict)

	require.NoError(t, s.Move(a.ID, "c.jpg"))
	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "c.jpg", got.RelativePath)
}

func TestRenameDir_RewritesPlainAndArchivePaths(t *testing.T) {
	s := openTestStore(t)

	plain := &model.MediaRecord{Type: model.TypeImage, RelativePath: "old/sub/a.jpg"}
	archived := &model.MediaRecord{Type: model.TypeImage, RelativePath: model.EncodeArchiveMember("old/sub/b.zip", "inner.jpg")}
	other := &model.MediaRecord{Type: model.TypeImage, RelativePath: "unrelated/c.jpg"}
	require.NoError(t, s.Add(plain))
	require.NoError(t, s.Add(archived))
	require.NoError(t, s.Add(other))

	n, err := s.RenameDir("old/sub", "new/sub")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.Get(plain.ID)
	require.NoError(t, err)
	assert.Equal(t, "new/sub/a.jpg", got.RelativePath)

	got, err = s.Get(archived.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EncodeArchiveMember("new/sub/b.zip", "inner.jpg"), got.RelativePath)

	got, err = s.Get(other.ID)
	require.NoError(t, err)
	assert.Equal(t, "unrelated/c.jpg", got.RelativePath)
}

func TestDuplicatesByMD5_GroupsOnlyRepeatedNonEmptyHashes(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeImage, RelativePath: "a.jpg", MD5: "same"}))
	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeImage, RelativePath: "b.jpg", MD5: "same"}))
	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeImage, RelativePath: "c.jpg", MD5: "unique"}))
	require.NoError(t, s.Add(&model.MediaRecord{Type: model.TypeImage, RelativePath: "d.jpg", MD5: ""}))

	groups, err := s.DuplicatesByMD5()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 2)
	for _, m := range groups[0] {
		assert.Equal(t, model.MatchExact, m.Flags)
	}
}

func TestVacuum_SweepsOrphanVdx(t *testing.T) {
	s := openTestStore(t)

	rec := &model.MediaRecord{Type: model.TypeVideo, RelativePath: "v.mp4"}
	require.NoError(t, s.Add(rec))
	require.NoError(t, WriteVdx(s.Dir(), rec.ID, []VdxFrame{{FrameNumber: 0, Hash: 1}}))

	orphanPath := VdxPath(s.Dir(), 999999)
	require.NoError(t, WriteVdx(s.Dir(), 999999, []VdxFrame{{FrameNumber: 0, Hash: 2}}))

	require.NoError(t, s.Vacuum())

	assert.FileExists(t, VdxPath(s.Dir(), rec.ID))
	_, err := os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(err))
}
