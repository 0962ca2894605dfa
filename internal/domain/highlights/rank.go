package highlights

import (
	"sort"

	"github.com/forPelevin/ytclipper/internal/types"
)

// HasScores reports whether any segment carries a score.
func HasScores(segs []types.Segment) bool {
	for _, s := range segs {
		if s.Score != nil {
			return true
		}
	}
	return false
}

// SortByScore orders segments by descending score in place. Missing scores
// count as zero and equal scores keep their input order.
func SortByScore(segs []types.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return scoreOf(segs[i]) > scoreOf(segs[j])
	})
}

func scoreOf(s types.Segment) float64 {
	if s.Score == nil {
		return 0
	}
	return *s.Score
}
