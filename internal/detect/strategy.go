package detect

import (
	"math"
	"regexp"
	"sort"
	"strconv"
)

// Minimum sample sizes below which a strategy is inconclusive.
const (
	minNumbered  = 3
	minDurations = 10
	minSizes     = 10
)

// Strategy thresholds.
const (
	gapFactor         = 3.0
	durationTolerance = 0.5
	sizeMADFactor     = 3.0
)

var trailingDigits = regexp.MustCompile(`[0-9]+$`)

// SequenceGap flags segments inside an abnormal forward jump of the trailing
// segment numbers. The step is the most common positive difference between
// neighbouring numbered segments; a jump is abnormal when it exceeds three
// steps.
//
// Segments strictly between the two ends of the jump are always flagged.
// When the numbering later returns to within three steps of the last number
// before the jump, the flagged range extends from just after that number up
// to the return, so the jump target and its followers are flagged too.
func SequenceGap(in Input) Outcome {
	type numbered struct {
		index int
		n     int64
	}

	var nums []numbered
	for i, stem := range in.Stems {
		digits := trailingDigits.FindString(stem)
		if digits == "" {
			continue
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, numbered{index: i, n: n})
	}

	if len(nums) < minNumbered {
		return inconclusive("fewer than 3 numbered segments")
	}

	var diffs []int64
	for j := 1; j < len(nums); j++ {
		if d := nums[j].n - nums[j-1].n; d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return inconclusive("no increasing segment numbers")
	}

	step := mode(diffs)
	limit := int64(gapFactor) * step

	flagged := make(map[int]bool)
	for j := 1; j < len(nums); {
		prev, cur := nums[j-1], nums[j]
		if cur.n-prev.n <= limit {
			j++
			continue
		}

		back := -1
		for k := j + 1; k < len(nums); k++ {
			if d := nums[k].n - prev.n; d > 0 && d <= limit {
				back = k
				break
			}
		}

		if back < 0 {
			for i := prev.index + 1; i < cur.index; i++ {
				flagged[i] = true
			}
			j++
			continue
		}

		for i := prev.index + 1; i < nums[back].index; i++ {
			flagged[i] = true
		}
		j = back + 1
	}

	return conclusive(flagged)
}

// DurationOutlier flags segments whose #EXTINF duration deviates from the most
// common duration, rounded to a tenth of a second, by more than half of it.
func DurationOutlier(in Input) Outcome {
	type timed struct {
		index int
		d     float64
	}

	var known []timed
	for i, d := range in.Durations {
		if d != nil {
			known = append(known, timed{index: i, d: *d})
		}
	}

	if len(known) < minDurations {
		return inconclusive("fewer than 10 segments with a duration")
	}

	rounded := make([]float64, len(known))
	for i, t := range known {
		rounded[i] = math.Round(t.d*10) / 10
	}
	common := mode(rounded)

	flagged := make(map[int]bool)
	for _, t := range known {
		if math.Abs(t.d-common) > durationTolerance*common {
			flagged[t.index] = true
		}
	}

	return conclusive(flagged)
}

// FilesizeOutlier flags segments whose byte size is more than three mean
// absolute deviations away from the median size.
func FilesizeOutlier(in Input) Outcome {
	if len(in.Sizes) < minSizes {
		return inconclusive("fewer than 10 segments with a known size")
	}

	values := make([]int64, 0, len(in.Sizes))
	for _, s := range in.Sizes {
		values = append(values, s)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	median := float64(values[len(values)/2])

	var total float64
	for _, s := range values {
		total += math.Abs(float64(s) - median)
	}
	mad := total / float64(len(values))

	flagged := make(map[int]bool)
	if mad > 0 {
		for i, s := range in.Sizes {
			if math.Abs(float64(s)-median) > sizeMADFactor*mad {
				flagged[i] = true
			}
		}
	}

	return conclusive(flagged)
}

// mode returns the most frequent value; ties go to the value seen first.
func mode[T comparable](values []T) T {
	counts := make(map[T]int, len(values))
	top := 0
	for _, v := range values {
		counts[v]++
		if counts[v] > top {
			top = counts[v]
		}
	}

	var zero T
	for _, v := range values {
		if counts[v] == top {
			return v
		}
	}
	return zero
}

func inconclusive(reason string) Outcome {
	return Outcome{Inconclusive: true, Reason: reason}
}

func conclusive(flagged map[int]bool) Outcome {
	indices := make([]int, 0, len(flagged))
	for i := range flagged {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return Outcome{Indices: indices}
}
