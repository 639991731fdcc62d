// Package detect finds ad segments with conservative statistical heuristics.
//
// Three strategies look at segment numbering, durations and sizes. Which of
// them is trusted depends on the naming scheme of the playlist: numbered
// segments use the numbering gap alone, hash-named segments require the
// duration and size strategies to agree, and any other scheme is left
// unfiltered. Heuristics are never unioned, and a strategy without enough
// samples reports Inconclusive instead of guessing.
package detect

import (
	"github.com/agleyzer/hlsmerge/internal/pattern"
	"github.com/agleyzer/hlsmerge/internal/segment"
)

// Strategy names used as keys in Result.Strategies.
const (
	StrategySequence = "sequence"
	StrategyDuration = "duration"
	StrategyFilesize = "filesize"
)

// Input is the segment metadata the strategies work on, indexed by playlist
// position.
type Input struct {
	// Stems are segment names without path, query or extension
	Stems []string

	// Durations holds #EXTINF durations; nil entries are unknown
	Durations []*float64

	// Sizes holds byte sizes for the segments whose size is known
	Sizes map[int]int64
}

// InputFrom builds an Input from a playlist, taking sizes from the segments
// that have one.
func InputFrom(p *segment.Playlist) Input {
	in := Input{
		Stems:     p.Stems(),
		Durations: p.Durations(),
		Sizes:     make(map[int]int64),
	}
	for _, seg := range p.Segments {
		if seg.HasSize {
			in.Sizes[seg.Index] = seg.Size
		}
	}
	return in
}

// Outcome is what one strategy found.
type Outcome struct {
	// Indices are flagged playlist positions in ascending order
	Indices []int `json:"indices"`

	// Inconclusive is set when there were too few samples to decide
	Inconclusive bool `json:"inconclusive"`

	// Reason explains an inconclusive outcome
	Reason string `json:"reason,omitempty"`
}

// Strategy is a pure ad heuristic.
type Strategy func(Input) Outcome

// Strategies lists every heuristic by name.
var Strategies = map[string]Strategy{
	StrategySequence: SequenceGap,
	StrategyDuration: DurationOutlier,
	StrategyFilesize: FilesizeOutlier,
}

// combiner turns raw strategy outcomes into the trusted ad set.
type combiner func(outcomes map[string]Outcome) []int

// policy is the combination table keyed by naming scheme.
var policy = map[pattern.Scheme]combiner{
	pattern.Sequential: func(o map[string]Outcome) []int {
		return o[StrategySequence].Indices
	},
	pattern.HashNamed: func(o map[string]Outcome) []int {
		return intersect(o[StrategyDuration].Indices, o[StrategyFilesize].Indices)
	},
	pattern.Timestamped: none,
	pattern.Mixed:       none,
}

func none(map[string]Outcome) []int { return nil }

// Result is the detection outcome of one merge operation.
type Result struct {
	Scheme     pattern.Scheme     `json:"scheme"`
	Tally      pattern.Tally      `json:"tally"`
	Strategies map[string]Outcome `json:"strategies"`

	// Ads are the playlist positions classified as ads, ascending
	Ads []int `json:"ads"`
}

// Detect classifies the naming scheme, runs every strategy for diagnostics
// and keeps only what the scheme's policy trusts.
func Detect(in Input) Result {
	scheme, tally := pattern.Classify(in.Stems)

	outcomes := make(map[string]Outcome, len(Strategies))
	for name, strategy := range Strategies {
		outcomes[name] = strategy(in)
	}

	return Combine(scheme, tally, outcomes)
}

// Combine applies the policy for scheme to already computed outcomes.
func Combine(scheme pattern.Scheme, tally pattern.Tally, outcomes map[string]Outcome) Result {
	combine, ok := policy[scheme]
	if !ok {
		combine = none
	}

	ads := combine(outcomes)
	if ads == nil {
		ads = []int{}
	}

	return Result{
		Scheme:     scheme,
		Tally:      tally,
		Strategies: outcomes,
		Ads:        ads,
	}
}

// intersect returns the values present in both ascending slices.
func intersect(a, b []int) []int {
	out := []int{}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
