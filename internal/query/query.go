// Package query implements C8, the query orchestrator from spec §4.5:
// resolves a needle set, parallel-maps Index.Find across it, optionally
// runs the template matcher, and applies the result-filtering pipeline
// from spec §4.7.
//
// Grounded on original_source/database.cpp's similar/similarTo and
// filterMatch/filterMatches; the parallel map over needles follows spec
// §4.5 step 4's "pre-sized results vector, atomic-counter-indexed slot,
// no locks" design exactly, using workerpool.Pool.RunIndexed in place of
// the source's ad-hoc thread spawning (spec §10 REDESIGN FLAGS).
package query

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbird/core/internal/cerrors"
	"github.com/cbird/core/internal/indexcore"
	"github.com/cbird/core/internal/logger"
	"github.com/cbird/core/internal/model"
	"github.com/cbird/core/internal/store"
	"github.com/cbird/core/internal/templatematch"
	"github.com/cbird/core/internal/workerpool"
)

// ImageLoader decodes a media id's pixels on demand, for the template
// matcher (itself outside the scanner's scope, spec §1). Leaving it nil
// disables template matching regardless of params.TemplateMatch.
type ImageLoader interface {
	Load(id uint32) (image.Image, error)
}

// Orchestrator is C8.
type Orchestrator struct {
	store   *store.Store
	images  indexcore.Index
	videos  indexcore.Index
	neg     *store.NegativeStore
	matcher *templatematch.Matcher
	loader  ImageLoader
	pool    *workerpool.Pool
	log     *logger.Logger
}

// New builds an orchestrator over the given collaborators. loader may be
// nil if template matching is never requested.
func New(st *store.Store, images, videos indexcore.Index, neg *store.NegativeStore, matcher *templatematch.Matcher, loader ImageLoader, pool *workerpool.Pool, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{store: st, images: images, videos: videos, neg: neg, matcher: matcher, loader: loader, pool: pool, log: log}
}

// Similar runs spec §4.5's similar(params) flow over the resolved needle set.
func (o *Orchestrator) Similar(ctx context.Context, params model.SearchParams) ([]model.MatchGroup, error) {
	needles, err := o.resolveNeedles(params)
	if err != nil {
		return nil, err
	}
	return o.search(ctx, needles, params)
}

// SimilarTo runs the same flow for a single explicit needle.
func (o *Orchestrator) SimilarTo(ctx context.Context, needle model.MediaRecord, params model.SearchParams) ([]model.MatchGroup, error) {
	return o.search(ctx, []model.MediaRecord{needle}, params)
}

func (o *Orchestrator) resolveNeedles(params model.SearchParams) ([]model.MediaRecord, error) {
	if params.InSet != nil {
		return params.InSet, nil
	}
	return o.store.All(params.QueryTypes)
}

func (o *Orchestrator) indexFor(params model.SearchParams) indexcore.Index {
	if params.Algo == model.AlgoDctVideo {
		return o.videos
	}
	return o.images
}

func (o *Orchestrator) search(ctx context.Context, needles []model.MediaRecord, params model.SearchParams) ([]model.MatchGroup, error) {
	queryID := uuid.New().String()
	o.log.Info("similar: query started", zap.String("query_id", queryID), zap.Int("needles", len(needles)))

	idx := o.indexFor(params)

	if params.InSet != nil {
		ids := make(map[uint32]bool, len(needles))
		for _, n := range needles {
			ids[n.ID] = true
		}
		idx = idx.Slice(ids)
	}

	byID, err := o.idToRecord()
	if err != nil {
		return nil, err
	}

	groups := make([]model.MatchGroup, len(needles))
	var cursor atomic.Int64

	err = o.pool.RunIndexed(ctx, len(needles), func(_ context.Context, i int) error {
		if params.Cancelled() {
			return cerrors.ErrCancelled
		}
		needle := needles[i]

		matches, err := idx.Find(needle, params)
		if err != nil {
			return fmt.Errorf("find for needle %d: %w", needle.ID, err)
		}
		if params.MaxMatches > 0 && len(matches) > params.MaxMatches {
			sort.Slice(matches, func(a, b int) bool { return matches[a].Score < matches[b].Score })
			matches = matches[:params.MaxMatches]
		}

		group := make(model.MatchGroup, 0, len(matches)+1)
		group = append(group, model.MediaMatch{Record: needle})
		for _, m := range matches {
			rec, ok := byID[m.MediaID]
			if !ok {
				continue
			}
			group = append(group, model.MediaMatch{Record: rec, Score: m.Score, Range: m.Range, Flags: matchFlags(needle, rec)})
		}

		slot := cursor.Add(1) - 1
		groups[slot] = group

		if params.Verbose && params.ProgressInterval > 0 && int(slot+1)%params.ProgressInterval == 0 {
			o.log.Info("similar: progress", zap.String("query_id", queryID), zap.Int64("processed", slot+1), zap.Int("total", len(needles)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	groups = groups[:cursor.Load()]

	if params.TemplateMatch && o.matcher != nil && o.loader != nil {
		for i := range groups {
			o.applyTemplateMatch(groups[i][0].Record, &groups[i])
		}
	}

	groups = filterResultGroups(groups, params, o.neg)

	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0].Record.RelativePath < groups[j][0].Record.RelativePath
	})
	return groups, nil
}

func (o *Orchestrator) idToRecord() (map[uint32]model.MediaRecord, error) {
	all, err := o.store.All(nil)
	if err != nil {
		return nil, err
	}
	m := make(map[uint32]model.MediaRecord, len(all))
	for _, r := range all {
		m[r.ID] = r
	}
	return m, nil
}

// matchFlags annotates a candidate relative to its needle (SPEC_FULL
// supplemented feature #2).
func matchFlags(needle, cand model.MediaRecord) model.MatchFlags {
	var flags model.MatchFlags
	if needle.MD5 != "" && needle.MD5 == cand.MD5 {
		flags |= model.MatchExact
	}
	if cand.Resolution() > needle.Resolution() {
		flags |= model.MatchBiggerDimensions
	}
	if needle.Compression > 0 && cand.Compression < needle.Compression {
		flags |= model.MatchLessCompressed
	}
	if cand.OriginalSize > needle.OriginalSize {
		flags |= model.MatchBiggerFile
	}
	return flags
}

func (o *Orchestrator) applyTemplateMatch(needle model.MediaRecord, group *model.MatchGroup) {
	needleImg, err := o.loader.Load(needle.ID)
	if err != nil {
		o.log.Warn("template match: failed to decode needle", zap.Uint32("id", needle.ID), zap.Error(err))
		return
	}

	images := make(map[uint32]image.Image)
	for _, m := range *group {
		if m.Record.ID == needle.ID {
			continue
		}
		img, err := o.loader.Load(m.Record.ID)
		if err != nil {
			continue
		}
		images[m.Record.ID] = img
	}

	o.matcher.Match(needleImg, needle, group, images)
}

// filterResultGroups applies spec §4.7's per-group and cross-group filters.
func filterResultGroups(groups []model.MatchGroup, params model.SearchParams, neg *store.NegativeStore) []model.MatchGroup {
	out := make([]model.MatchGroup, 0, len(groups))
	for _, g := range groups {
		if kept, ok := filterMatch(g, params, neg); ok {
			out = append(out, kept)
		}
	}

	if params.FilterGroups {
		out = dedupGroups(out)
	}
	if params.MergeGroups {
		out = mergeGroups(out)
	}
	if params.ExpandGroups {
		out = expandGroups(out)
	}
	return out
}

// filterMatch applies the per-group filters from spec §4.7 to one group
// (needle prepended at index 0).
func filterMatch(group model.MatchGroup, params model.SearchParams, neg *store.NegativeStore) (model.MatchGroup, bool) {
	if len(group) == 0 {
		return nil, false
	}
	needle := group[0].Record
	candidates := group[1:]

	kept := make([]model.MediaMatch, 0, len(candidates))
	for _, cand := range candidates {
		if params.NegativeMatch && neg != nil {
			isNeg, err := neg.Contains(needle.MD5, cand.Record.MD5)
			if err == nil && isNeg {
				continue
			}
		}
		if params.Path != "" {
			starts := strings.HasPrefix(cand.Record.RelativePath, params.Path)
			if params.FilterInPath != starts {
				continue
			}
		}
		kept = append(kept, cand)
	}

	if params.FilterParent && len(kept) > 0 && allSameParent(needle, kept) {
		return nil, false
	}

	if len(kept) <= params.MinMatches {
		return nil, false
	}

	result := make(model.MatchGroup, 0, len(kept)+1)
	result = append(result, group[0])
	result = append(result, kept...)
	return result, true
}

// allSameParent reports whether every candidate shares the needle's
// parent directory (or, for archive members, the same archive).
func allSameParent(needle model.MediaRecord, candidates []model.MediaMatch) bool {
	needleParent := parentOf(needle)
	for _, c := range candidates {
		if parentOf(c.Record) != needleParent {
			return false
		}
	}
	return true
}

func parentOf(rec model.MediaRecord) string {
	if archive, _, ok := rec.ArchivePaths(); ok {
		return archive
	}
	return model.ParentDir(rec.RelativePath)
}

// groupKey is the sorted, newline-joined member-path set used for
// dedup/merge comparisons (spec §4.7's "sorted set of member paths").
func groupKey(g model.MatchGroup) string {
	paths := make([]string, len(g))
	for i, m := range g {
		paths[i] = m.Record.RelativePath
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}

func dedupGroups(groups []model.MatchGroup) []model.MatchGroup {
	seen := make(map[string]bool, len(groups))
	out := make([]model.MatchGroup, 0, len(groups))
	for _, g := range groups {
		key := groupKey(g)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

// mergeGroups transitively merges groups that share at least one member
// path, via union-find over path identity.
func mergeGroups(groups []model.MatchGroup) []model.MatchGroup {
	parent := make(map[string]string)
	find := func(x string) string {
		for parent[x] != x {
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	members := make(map[string]model.MediaMatch)
	for _, g := range groups {
		var first string
		for i, m := range g {
			path := m.Record.RelativePath
			if _, ok := parent[path]; !ok {
				parent[path] = path
			}
			members[path] = m
			if i == 0 {
				first = path
			} else {
				union(first, path)
			}
		}
	}

	byRoot := make(map[string][]string)
	for path := range parent {
		root := find(path)
		byRoot[root] = append(byRoot[root], path)
	}

	out := make([]model.MatchGroup, 0, len(byRoot))
	for _, paths := range byRoot {
		sort.Strings(paths)
		g := make(model.MatchGroup, 0, len(paths))
		for _, p := range paths {
			g = append(g, members[p])
		}
		out = append(out, g)
	}
	return out
}

// expandGroups flattens every group of size n into pairwise (needle,
// candidate) rows, per spec §4.7.
func expandGroups(groups []model.MatchGroup) []model.MatchGroup {
	out := make([]model.MatchGroup, 0, len(groups))
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		for _, cand := range g[1:] {
			out = append(out, model.MatchGroup{g[0], cand})
		}
	}
	return out
}
