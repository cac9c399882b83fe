package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cbird/core/internal/cerrors"
)

// VdxFrame is one decoded frame hash from a .vdx sidecar file.
type VdxFrame struct {
	FrameNumber uint32
	Hash        uint64
}

// VdxPath returns the sidecar path for a video record's frame hashes,
// "<dir>/video/<id>.vdx" per spec §6's on-disk layout.
func VdxPath(dir string, mediaID uint32) string {
	return filepath.Join(dir, "video", fmt.Sprintf("%d.vdx", mediaID))
}

// WriteVdx writes a video's frame hashes to its sidecar file: a u32
// count followed by count (u32 frame_number, u64 hash) pairs, all
// little-endian (spec §6).
func WriteVdx(dir string, mediaID uint32, frames []VdxFrame) error {
	path := VdxPath(dir, mediaID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vdx: create video dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vdx: create: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(frames))); err != nil {
		return fmt.Errorf("vdx: write count: %w", err)
	}
	for _, fr := range frames {
		if err := binary.Write(w, binary.LittleEndian, fr.FrameNumber); err != nil {
			return fmt.Errorf("vdx: write frame: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, fr.Hash); err != nil {
			return fmt.Errorf("vdx: write hash: %w", err)
		}
	}
	return w.Flush()
}

// ReadVdx reads a video's frame hashes back from its sidecar file.
// Returns cerrors.ErrCorrupt on a truncated file so the caller can log
// and skip rather than abort an entire index load (spec §4.4).
func ReadVdx(dir string, mediaID uint32) ([]VdxFrame, error) {
	f, err := os.Open(VdxPath(dir, mediaID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.ErrNotFound
		}
		return nil, fmt.Errorf("vdx: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("vdx: read count: %w: %w", err, cerrors.ErrCorrupt)
	}

	frames := make([]VdxFrame, 0, count)
	for i := uint32(0); i < count; i++ {
		var fr VdxFrame
		if err := binary.Read(r, binary.LittleEndian, &fr.FrameNumber); err != nil {
			return nil, joinCorrupt(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &fr.Hash); err != nil {
			return nil, joinCorrupt(err)
		}
		frames = append(frames, fr)
	}

	// A trailing partial record (truncated write) is corrupt, not EOF.
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("vdx: trailing data: %w", cerrors.ErrCorrupt)
	}

	return frames, nil
}

func joinCorrupt(err error) error {
	return fmt.Errorf("vdx: truncated frame: %w: %w", err, cerrors.ErrCorrupt)
}
