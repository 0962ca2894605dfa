// Package format holds the small text helpers shared by every stage:
// timestamps, file-safe titles and byte sizes.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
)

// ParseTimestamp accepts HH:MM:SS[.mmm], MM:SS[.mmm] or plain seconds.
// A comma is accepted as the fraction separator (SRT style).
func ParseTimestamp(s string) (time.Duration, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		if p == "" {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		var v float64
		if last {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
			}
			v = f
		} else {
			n, err := strconv.Atoi(p)
			if err != nil {
				return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
			}
			v = float64(n)
		}
		if v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q: negative field", s)
		}
		total = total*60 + v
	}
	return time.Duration(math.Round(total * float64(time.Second))), nil
}

// Timestamp renders d as HH:MM:SS.mmm. Negative durations render as zero.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	sec := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, ms%1000)
}

// Seconds renders fractional seconds as a timestamp.
func Seconds(sec float64) string {
	return Timestamp(time.Duration(math.Round(sec * float64(time.Second))))
}

// SanitizeTitle keeps letters, digits, spaces, dashes and underscores.
func SanitizeTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
