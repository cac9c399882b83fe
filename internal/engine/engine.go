// Package engine assembles the core's components into the single
// object the CLI drives: store, indices, negative-match store, query
// orchestrator, and their shared worker pool and logger. It exposes the
// add/remove/similar/similarTo/vacuum surface spec §6 calls out as the
// core's CLI-facing contract.
//
// Grounded on the teacher's cmd/main.go wiring (database, repositories,
// services constructed once at startup and threaded through handlers);
// this is the same "build every collaborator, hand them to the thing
// that orchestrates requests" shape applied to a CLI instead of an HTTP
// server.
package engine

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cbird/core/internal/config"
	"github.com/cbird/core/internal/dcthash"
	"github.com/cbird/core/internal/imageindex"
	"github.com/cbird/core/internal/indexcore"
	"github.com/cbird/core/internal/logger"
	"github.com/cbird/core/internal/model"
	"github.com/cbird/core/internal/query"
	"github.com/cbird/core/internal/store"
	"github.com/cbird/core/internal/templatematch"
	"github.com/cbird/core/internal/videodecoder"
	"github.com/cbird/core/internal/videoindex"
	"github.com/cbird/core/internal/workerpool"
)

// Engine is the top-level assembly of the core's components.
type Engine struct {
	cfg config.Config
	log *logger.Logger

	store   *store.Store
	images  *imageindex.Index
	videos  *videoindex.Index
	neg     *store.NegativeStore
	matcher *templatematch.Matcher
	decoder *videodecoder.Decoder
	pool    *workerpool.Pool
	orch    *query.Orchestrator
}

// Open builds an Engine over the configured index directory, loading
// every existing record into the in-memory indices.
func Open(cfg config.Config, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Nop()
	}

	dir := filepath.Join(cfg.Index.Dir, cfg.Index.Name)
	st, err := store.Open(dir, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		store:   st,
		images:  imageindex.New(),
		videos:  videoindex.New(),
		neg:     store.NewNegativeStore(dir),
		matcher: templatematch.New(),
		decoder: videodecoder.New(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath),
		pool:    workerpool.New(cfg.Workers.Concurrency),
	}

	if err := e.loadIndices(); err != nil {
		st.Close()
		return nil, err
	}

	e.orch = query.New(e.store, e.images, e.videos, e.neg, e.matcher, e, e.pool, e.log)
	return e, nil
}

func (e *Engine) loadIndices() error {
	images, err := e.store.All([]model.MediaType{model.TypeImage})
	if err != nil {
		return fmt.Errorf("engine: load images: %w", err)
	}
	if err := e.images.Add(images); err != nil {
		return fmt.Errorf("engine: index images: %w", err)
	}

	videos, err := e.store.All([]model.MediaType{model.TypeVideo})
	if err != nil {
		return fmt.Errorf("engine: load videos: %w", err)
	}
	for _, v := range videos {
		frames, err := store.ReadVdx(e.store.Dir(), v.ID)
		if err != nil {
			e.log.Warn("engine: skipping video with unreadable frame index", zap.Uint32("id", v.ID), zap.Error(err))
			continue
		}
		if err := e.videos.AddVideo(v, frames, e.cfg.Search.SkipFrames); err != nil {
			return fmt.Errorf("engine: index video %d: %w", v.ID, err)
		}
	}
	return nil
}

// Add registers a new media record and (for images) its perceptual
// hash into the in-memory index, or (for videos) its extracted frame
// hashes into the video index and .vdx sidecar.
func (e *Engine) Add(rec model.MediaRecord, frames []store.VdxFrame) error {
	if err := e.store.Add(&rec); err != nil {
		return err
	}

	switch rec.Type {
	case model.TypeImage:
		return e.images.Add([]model.MediaRecord{rec})
	case model.TypeVideo:
		if err := store.WriteVdx(e.store.Dir(), rec.ID, frames); err != nil {
			return err
		}
		return e.videos.AddVideo(rec, frames, e.cfg.Search.SkipFrames)
	default:
		return nil
	}
}

// frameSampleStride is how many seconds separate sampled frames during
// video ingestion (SPEC_FULL's supplemented ingestion pipeline; the
// scanner itself stays out of scope, but something has to produce the
// .vdx frame hashes AddVideo expects).
const frameSampleStride = 2.0

// AddVideoFile probes a video file, samples frames at a fixed stride,
// hashes each one, and adds the resulting record with its frame set.
func (e *Engine) AddVideoFile(ctx context.Context, relPath string, originalSize int64) error {
	abs := filepath.Join(e.cfg.Index.Dir, relPath)

	info, err := e.decoder.Probe(ctx, abs)
	if err != nil {
		return fmt.Errorf("engine: probe %s: %w", relPath, err)
	}

	var timestamps []float64
	for t := 0.0; t < info.DurationSeconds; t += frameSampleStride {
		timestamps = append(timestamps, t)
	}
	if len(timestamps) == 0 {
		timestamps = []float64{0}
	}

	frames := make([]store.VdxFrame, 0, len(timestamps))
	for i, ts := range timestamps {
		img, err := e.decoder.ExtractFrame(ctx, abs, ts)
		if err != nil {
			e.log.Warn("engine: skipping unreadable video frame", zap.Error(err))
			continue
		}
		hash, err := dcthash.Compute(img)
		if err != nil {
			continue
		}
		frames = append(frames, store.VdxFrame{FrameNumber: uint32(i), Hash: hash})
	}

	rec := model.MediaRecord{
		Type:         model.TypeVideo,
		RelativePath: relPath,
		Width:        info.Width,
		Height:       info.Height,
		OriginalSize: originalSize,
	}
	return e.Add(rec, frames)
}

// Remove deletes a media record from the store and tombstones it out
// of whichever in-memory index held it.
func (e *Engine) Remove(id uint32) error {
	rec, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.Remove(id); err != nil {
		return err
	}
	switch rec.Type {
	case model.TypeImage:
		return e.images.Remove([]uint32{id})
	case model.TypeVideo:
		return e.videos.Remove([]uint32{id})
	}
	return nil
}

// Similar runs a similarity query over the resolved needle set.
func (e *Engine) Similar(ctx context.Context, params model.SearchParams) ([]model.MatchGroup, error) {
	return e.orch.Similar(ctx, params)
}

// SimilarTo runs a similarity query for one explicit needle.
func (e *Engine) SimilarTo(ctx context.Context, path string, params model.SearchParams) ([]model.MatchGroup, error) {
	needle, err := e.store.FindByPath(path)
	if err != nil {
		return nil, err
	}
	return e.orch.SimilarTo(ctx, needle, params)
}

// DuplicatesByMD5 returns exact-duplicate groups (SPEC_FULL supplemented
// feature #1).
func (e *Engine) DuplicatesByMD5() ([]model.MatchGroup, error) {
	return e.store.DuplicatesByMD5()
}

// Vacuum reclaims store space and sweeps orphaned .vdx files.
func (e *Engine) Vacuum() error {
	return e.store.Vacuum()
}

// AddNegativeMatch records that two media, by md5, must never be
// reported as matches again.
func (e *Engine) AddNegativeMatch(md5A, md5B string) error {
	return e.neg.Add(md5A, md5B)
}

// NegativeMatches lists every recorded negative-match pair.
func (e *Engine) NegativeMatches() ([]model.NegativePair, error) {
	return e.neg.Pairs()
}

// Close releases the store's database handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Load implements query.ImageLoader for the template matcher: decode
// an already-indexed media id's pixels from disk. Images are read
// directly; videos are sampled at the first frame listed in their .vdx
// sidecar.
func (e *Engine) Load(id uint32) (image.Image, error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Type != model.TypeVideo {
		return decodeImageFile(e.cfg.Index.Dir, rec.RelativePath)
	}

	frames, err := store.ReadVdx(e.store.Dir(), id)
	if err != nil || len(frames) == 0 {
		return nil, fmt.Errorf("engine: no frames to sample for video %d", id)
	}
	abs := filepath.Join(e.cfg.Index.Dir, rec.RelativePath)
	return e.decoder.ExtractFrame(context.Background(), abs, float64(frames[0].FrameNumber)*frameSampleStride)
}

func decodeImageFile(root, relativePath string) (image.Image, error) {
	f, err := os.Open(filepath.Join(root, relativePath))
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", relativePath, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("engine: decode %s: %w", relativePath, err)
	}
	return img, nil
}

// indexcoreGuard is a compile-time check that imageindex/videoindex
// satisfy indexcore.Index, since engine wires them through that
// interface into the query orchestrator.
var (
	_ indexcore.Index = (*imageindex.Index)(nil)
	_ indexcore.Index = (*videoindex.Index)(nil)
)

// Hash is re-exported so CLI commands can compute a perceptual hash
// without importing dcthash directly.
func Hash(img image.Image) (uint64, error) { return dcthash.Compute(img) }
