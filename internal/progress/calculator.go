package progress

import "math"

// TotalWatchedSeconds sums the interval lengths. Because a WatchedSet never
// overlaps, the sum is the measure of the union.
func TotalWatchedSeconds(set WatchedSet) float64 {
	var total float64
	for _, iv := range set {
		total += iv.Len()
	}
	return total
}

// Percentage returns the watched share of a video in [0, 100].
func Percentage(set WatchedSet, duration float64) (float64, error) {
	if !(duration > 0) || math.IsInf(duration, 0) {
		return 0, ErrInvalidDuration
	}
	pct := 100 * TotalWatchedSeconds(set) / duration
	return math.Min(100, math.Max(0, pct)), nil
}
