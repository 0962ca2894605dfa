package highlights

import (
	"math/rand"
	"testing"
	"time"
)

func TestSelectPeaks_GreedyByIntensityThenTimeline(t *testing.T) {
	markers := []Marker{
		{Start: 10 * time.Second, Intensity: 0.4},
		{Start: 100 * time.Second, Intensity: 1.0},
		{Start: 105 * time.Second, Intensity: 0.9}, // inside the 100s window
		{Start: 50 * time.Second, Intensity: 0.7},
	}

	out := SelectPeaks(markers, 10, 15*time.Second, 0)
	if len(out) != 3 {
		t.Fatalf("expected 3 windows, got %d: %+v", len(out), out)
	}
	wantStarts := []time.Duration{8 * time.Second, 48 * time.Second, 98 * time.Second}
	for i, w := range out {
		if w.Start != wantStarts[i] {
			t.Fatalf("window %d: expected start %v, got %v", i, wantStarts[i], w.Start)
		}
		if w.End != w.Peak+15*time.Second {
			t.Fatalf("window %d: expected end peak+15s, got %v", i, w.End)
		}
	}
}

func TestSelectPeaks_RespectsCount(t *testing.T) {
	markers := []Marker{
		{Start: 0, Intensity: 0.1},
		{Start: 60 * time.Second, Intensity: 0.9},
		{Start: 120 * time.Second, Intensity: 0.5},
	}
	out := SelectPeaks(markers, 1, 15*time.Second, 0)
	if len(out) != 1 {
		t.Fatalf("expected 1 window, got %d", len(out))
	}
	if out[0].Peak != 60*time.Second {
		t.Fatalf("expected the most intense marker, got peak %v", out[0].Peak)
	}
}

func TestSelectPeaks_StableOnEqualIntensity(t *testing.T) {
	markers := []Marker{
		{Start: 30 * time.Second, Intensity: 0.8},
		{Start: 35 * time.Second, Intensity: 0.8},
	}
	out := SelectPeaks(markers, 5, 15*time.Second, 0)
	if len(out) != 1 {
		t.Fatalf("expected overlap to drop one window, got %d", len(out))
	}
	if out[0].Peak != 30*time.Second {
		t.Fatalf("expected first marker to win the tie, got %v", out[0].Peak)
	}
}

func TestSelectPeaks_ClampsStartAtZero(t *testing.T) {
	out := SelectPeaks([]Marker{{Start: time.Second, Intensity: 1}}, 1, 15*time.Second, 0)
	if len(out) != 1 {
		t.Fatalf("expected 1 window")
	}
	if out[0].Start != 0 || out[0].End != 16*time.Second {
		t.Fatalf("unexpected window: %+v", out[0])
	}
}

func TestSelectPeaks_ClampsEndAndKeepsMinimum(t *testing.T) {
	out := SelectPeaks([]Marker{{Start: 95 * time.Second, Intensity: 1}}, 1, 15*time.Second, 100*time.Second)
	if len(out) != 1 {
		t.Fatalf("expected 1 window")
	}
	w := out[0]
	if w.End != 100*time.Second {
		t.Fatalf("expected end clamped to duration, got %v", w.End)
	}
	if w.End-w.Start < 15*time.Second {
		t.Fatalf("expected window >= 15s, got %v", w.End-w.Start)
	}
}

func TestSelectPeaks_SkipsWhenVideoShorterThanMinimum(t *testing.T) {
	out := SelectPeaks([]Marker{{Start: 2 * time.Second, Intensity: 1}}, 1, 15*time.Second, 10*time.Second)
	if len(out) != 0 {
		t.Fatalf("expected no windows, got %+v", out)
	}
}

func TestSelectPeaks_NeverOverlapsAndMeetsMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		videoDur := time.Duration(30+rng.Intn(600)) * time.Second
		if round%3 == 0 {
			videoDur = 0
		}
		minDur := time.Duration(5+rng.Intn(30)) * time.Second
		markers := make([]Marker, 1+rng.Intn(100))
		limit := 600 * time.Second
		if videoDur > 0 {
			limit = videoDur
		}
		for i := range markers {
			markers[i] = Marker{
				Start:     time.Duration(rng.Int63n(int64(limit))),
				Intensity: float64(rng.Intn(5)) / 4,
			}
		}

		out := SelectPeaks(markers, 1+rng.Intn(12), minDur, videoDur)
		for i, w := range out {
			if w.End-w.Start < minDur {
				t.Fatalf("round %d: window %d shorter than %v: %+v", round, i, minDur, w)
			}
			if w.Start < 0 || (videoDur > 0 && w.End > videoDur) {
				t.Fatalf("round %d: window %d out of bounds: %+v", round, i, w)
			}
			if i > 0 && out[i-1].End > w.Start {
				t.Fatalf("round %d: windows %d and %d overlap: %+v %+v", round, i-1, i, out[i-1], w)
			}
		}
	}
}
