package highlights

import (
	"sort"
	"time"
)

// peakLeadIn is how far before a replay peak a window starts.
const peakLeadIn = 2 * time.Second

// Marker is one "most replayed" heat marker.
type Marker struct {
	Start     time.Duration
	Duration  time.Duration
	Intensity float64
}

// Window is an accepted peak window.
type Window struct {
	Start     time.Duration
	End       time.Duration
	Peak      time.Duration
	Intensity float64
}

// SelectPeaks greedily picks up to n non-overlapping windows, highest
// intensity first, and returns them in timeline order. Equal intensities keep
// marker order. videoDur <= 0 means the duration is unknown and the end clamp
// is skipped.
func SelectPeaks(markers []Marker, n int, minDur, videoDur time.Duration) []Window {
	if n <= 0 || minDur <= 0 || len(markers) == 0 {
		return nil
	}

	ordered := make([]Marker, len(markers))
	copy(ordered, markers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Intensity > ordered[j].Intensity
	})

	out := make([]Window, 0, n)
	for _, m := range ordered {
		if len(out) >= n {
			break
		}
		st, en := peakWindow(m.Start, minDur, videoDur)
		if en-st < minDur {
			continue
		}
		if !isDistinct(out, st, en) {
			continue
		}
		out = append(out, Window{Start: st, End: en, Peak: m.Start, Intensity: m.Intensity})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// peakWindow returns [t-2s, t+minDur] clamped to the video. A window cut short
// by the end of the video is shifted earlier to keep its length.
func peakWindow(t, minDur, videoDur time.Duration) (time.Duration, time.Duration) {
	st := t - peakLeadIn
	if st < 0 {
		st = 0
	}
	en := t + minDur
	if videoDur > 0 && en > videoDur {
		en = videoDur
		if en-st < minDur {
			st = en - minDur - peakLeadIn
			if st < 0 {
				st = 0
			}
		}
	}
	return st, en
}

// isDistinct reports whether [st, en) overlaps none of the accepted windows.
// Touching windows do not overlap.
func isDistinct(existing []Window, st, en time.Duration) bool {
	for _, e := range existing {
		if st < e.End && en > e.Start {
			return false
		}
	}
	return true
}
