package youtube

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	urlIDRE  = regexp.MustCompile(`(?:v=|/v/|youtu\.be/|/embed/|/shorts/)([a-zA-Z0-9_-]{11})`)
	bareIDRE = regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`)
)

// ParseVideoID extracts the 11-character video ID from a watch, short,
// embed or shorts URL, or accepts a bare ID.
func ParseVideoID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := urlIDRE.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if m := bareIDRE.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("could not extract video ID from %q", s)
}
