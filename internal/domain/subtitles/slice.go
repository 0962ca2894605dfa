package subtitles

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astisub"

	"github.com/forPelevin/ytclipper/internal/format"
)

// Slice keeps the cues overlapping [start, end), trims them to the window and
// shifts them so the window starts at zero. Consecutive cues with identical
// text (rolling auto-captions) are merged into one.
func Slice(subs *astisub.Subtitles, start, end time.Duration) *astisub.Subtitles {
	out := astisub.NewSubtitles()
	if subs == nil || end <= start {
		return out
	}

	var prev *astisub.Item
	for _, it := range subs.Items {
		if it.EndAt <= start || it.StartAt >= end {
			continue
		}
		text := itemText(it)
		if text == "" {
			continue
		}
		st := maxDur(it.StartAt, start) - start
		en := minDur(it.EndAt, end) - start
		if en <= st {
			continue
		}
		if prev != nil && itemText(prev) == text {
			if en > prev.EndAt {
				prev.EndAt = en
			}
			continue
		}
		cue := &astisub.Item{StartAt: st, EndAt: en, Lines: it.Lines}
		out.Items = append(out.Items, cue)
		prev = cue
	}
	return out
}

// SliceFile reads a VTT or SRT file, slices it to [start, end] and writes the
// result as SRT. A window with no cues produces an empty file.
func SliceFile(in, start, end, out string) error {
	st, err := format.ParseTimestamp(start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	en, err := format.ParseTimestamp(end)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if en <= st {
		return fmt.Errorf("end %s must be after start %s", end, start)
	}

	subs, err := astisub.OpenFile(in)
	if err != nil {
		return fmt.Errorf("open subtitles %s: %w", in, err)
	}

	sliced := Slice(subs, st, en)
	if len(sliced.Items) == 0 {
		return os.WriteFile(out, nil, 0o644)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := sliced.WriteToSRT(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write srt: %w", err)
	}
	return f.Close()
}

func itemText(it *astisub.Item) string {
	var parts []string
	for _, l := range it.Lines {
		for _, li := range l.Items {
			if t := strings.TrimSpace(li.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
