package model

// Algo selects which Index a query runs against (spec §3 SearchParams).
type Algo int

const (
	AlgoDctImage Algo = iota
	AlgoDctVideo
	AlgoColor
	AlgoFeatures
)

// MatchRange describes the frame alignment of a video match (spec §3),
// used to seed side-by-side playback. SrcIn/DstIn are frame numbers in the
// needle/candidate respectively; Len is the aligned run length.
type MatchRange struct {
	SrcIn int
	DstIn int
	Len   int
}

// SearchParams is the enumerated query configuration from spec §3.
type SearchParams struct {
	Algo Algo

	// DctThreshold is the Hamming-distance cutoff; spec default ~7.
	DctThreshold int

	MinFramesMatched    int
	MinFramesNearPct    int
	SkipFrames          int
	MaxMatches          int

	FilterSelf   bool
	FilterGroups bool
	FilterParent bool
	FilterInPath bool

	MergeGroups  bool
	ExpandGroups bool

	TemplateMatch bool
	NegativeMatch bool
	Verbose       bool

	// Target restricts a video query to one video id (0 = unrestricted).
	Target uint32

	// QueryTypes selects which record types are iterated as needles when
	// InSet is not used.
	QueryTypes []MediaType

	// InSet, when non-nil, is the explicit needle set (spec §4.5 step 1).
	InSet []MediaRecord

	// Path restricts results by path prefix; InPath selects whether
	// matches must (true) or must not (false) start with Path.
	Path string

	// MinMatches discards candidate groups with count <= MinMatches
	// (spec §4.7); a group always includes the needle itself at index 0.
	MinMatches int

	// ProgressInterval controls how often Similar logs progress.
	ProgressInterval int

	// Cancel, if non-nil, is polled cooperatively by long operations
	// (spec §5 "Cancellation"). A closed channel means cancelled.
	Cancel <-chan struct{}
}

// DefaultSearchParams matches the spec's stated defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Algo:             AlgoDctImage,
		DctThreshold:     7,
		MinFramesMatched: 0,
		MinFramesNearPct: 0,
		MaxMatches:       0,
		FilterGroups:     true,
		QueryTypes:       []MediaType{TypeImage},
		ProgressInterval: 1000,
	}
}

// Cancelled reports whether the caller's cancellation flag has fired.
func (p SearchParams) Cancelled() bool {
	if p.Cancel == nil {
		return false
	}
	select {
	case <-p.Cancel:
		return true
	default:
		return false
	}
}

// MatchFlags annotate a similarTo result relative to the needle
// (SPEC_FULL supplemented feature #2).
type MatchFlags int

const (
	MatchExact              MatchFlags = 1 << 0
	MatchBiggerDimensions    MatchFlags = 1 << 1
	MatchLessCompressed      MatchFlags = 1 << 2
	MatchBiggerFile          MatchFlags = 1 << 3
)

// Match is one hit returned by an Index.Find call, before hydration.
type Match struct {
	MediaID uint32
	Score   int // Hamming distance for Find results, 100-percentNear for videoindex FindVideo
	Range   MatchRange
}

// MediaMatch is a hydrated Match: the full record plus its score/range and
// any match flags set by similarTo.
type MediaMatch struct {
	Record MediaRecord
	Score  int
	Range  MatchRange
	Flags  MatchFlags

	// ROI/Transform are set by the template matcher when it validates a
	// candidate (spec §4.6); nil/zero-value until then.
	ROI       *[4][2]float64
	Transform *AffineTransform
}

// MatchGroup is a needle prepended to its candidate matches (spec §4.5
// step 6: "Prepend the needle to each group").
type MatchGroup []MediaMatch

// AffineTransform is the rigid transform estimated by the template matcher.
type AffineTransform struct {
	// 2x3 matrix: [a b tx; c d ty], mapping needle coordinates to candidate
	// coordinates.
	A, B, C, D, TX, TY float64
}
