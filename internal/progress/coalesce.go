package progress

import "sort"

// Merge folds incoming into existing and returns the minimal equivalent set.
//
// Degenerate intervals are a no-op. incoming is clipped to [0, duration]
// (duration <= 0 leaves the upper bound open), inserted by start time, and any
// interval that overlaps or touches its neighbour is absorbed. existing is
// never mutated.
func Merge(existing WatchedSet, incoming Interval, duration float64) WatchedSet {
	if incoming.Degenerate() || !finite(incoming.Start) || !finite(incoming.End) {
		return existing
	}
	incoming = incoming.clip(duration)
	if incoming.Degenerate() {
		return existing
	}

	idx := sort.Search(len(existing), func(i int) bool {
		return existing[i].Start > incoming.Start
	})

	out := make(WatchedSet, 0, len(existing)+1)
	out = append(out, existing[:idx]...)
	out = append(out, incoming)
	out = append(out, existing[idx:]...)

	// Only the predecessor of the inserted interval can reach into it; every
	// earlier pair was already disjoint.
	from := idx - 1
	if from < 0 {
		from = 0
	}
	merged := out[:from+1]
	for _, next := range out[from+1:] {
		cur := &merged[len(merged)-1]
		if next.Start <= cur.End {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}

	if err := merged.Validate(duration); err != nil {
		// Unreachable for valid input; a corrupt existing set is rebuilt.
		return Normalize(merged, duration)
	}
	return merged
}

// Normalize builds a valid WatchedSet from arbitrary intervals, which may be
// unsorted, overlapping, or outside [0, duration].
func Normalize(intervals []Interval, duration float64) WatchedSet {
	sorted := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Degenerate() || !finite(iv.Start) || !finite(iv.End) {
			continue
		}
		iv = iv.clip(duration)
		if iv.Degenerate() {
			continue
		}
		sorted = append(sorted, iv)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := WatchedSet{}
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
