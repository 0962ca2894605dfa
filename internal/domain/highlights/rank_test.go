package highlights

import (
	"testing"

	"github.com/forPelevin/ytclipper/internal/types"
)

func score(v float64) *float64 { return &v }

func TestSortByScore_Stable(t *testing.T) {
	segs := []types.Segment{
		{Title: "a", Score: score(9.5)},
		{Title: "b", Score: score(7)},
		{Title: "c", Score: score(9.5)},
		{Title: "d"},
	}
	SortByScore(segs)

	want := []string{"a", "c", "b", "d"}
	for i, s := range segs {
		if s.Title != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], s.Title)
		}
	}
}

func TestHasScores(t *testing.T) {
	if HasScores([]types.Segment{{Title: "x"}}) {
		t.Fatalf("expected no scores")
	}
	if !HasScores([]types.Segment{{Title: "x"}, {Title: "y", Score: score(0)}}) {
		t.Fatalf("expected scores to be detected")
	}
}
