// Package indexcore defines the shared contract between the image-hash
// index (C3) and the video-frame index (C4): both are dense,
// tombstone-deleting search structures over a set of media ids (C3
// rebuilds its tree lazily on the next query; C4 inserts frames into its
// tree as they are added), and both need to hand back a restricted copy of themselves for a
// single-target query (spec §4.3/§4.4's "Slice").
//
// Grounded on DESIGN NOTES §9's discussion of a trait/interface whose
// slice method returns an owned index of the same dynamic variant — Go
// expresses that directly as an interface returning Index rather than
// reaching for a sum type the language does not have.
package indexcore

import "github.com/cbird/core/internal/model"

// Index is implemented by imageindex.Index and videoindex.Index.
type Index interface {
	// Add inserts newly-scanned media into the index.
	Add(records []model.MediaRecord) error

	// Remove tombstones the given media ids out of the index.
	Remove(ids []uint32) error

	// Find returns every indexed match for one needle under params.
	Find(needle model.MediaRecord, params model.SearchParams) ([]model.Match, error)

	// Slice returns a new Index instance restricted to the given media
	// ids, used to scope a query to one target video or directory.
	Slice(ids map[uint32]bool) Index

	// Len reports how many live (non-tombstoned) values are indexed.
	Len() int
}
