// Package heatmap selects highlight segments from YouTube "most replayed"
// markers served by the LemnosLife API.
package heatmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/forPelevin/ytclipper/internal/domain/highlights"
	ytid "github.com/forPelevin/ytclipper/internal/domain/youtube"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/types"
)

var ErrNoData = errors.New("no Most Replayed data found")

const (
	DefaultBaseURL     = "https://yt.lemnoslife.com"
	DefaultPeaks       = 10
	DefaultMinDuration = 15 * time.Second

	requestTimeout = 30 * time.Second
)

// DurationFunc returns the video length. Errors are tolerated by callers.
type DurationFunc func(ctx context.Context, videoID string) (time.Duration, error)

type Options struct {
	BaseURL     string
	Peaks       int
	MinDuration time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Duration    DurationFunc
}

type Extractor struct {
	baseURL  string
	peaks    int
	minDur   time.Duration
	client   *http.Client
	log      *slog.Logger
	duration DurationFunc
}

var _ ports.SegmentExtractor = (*Extractor)(nil)

func New(opts Options) *Extractor {
	e := &Extractor{
		baseURL:  strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		peaks:    opts.Peaks,
		minDur:   opts.MinDuration,
		client:   opts.HTTPClient,
		log:      opts.Logger,
		duration: opts.Duration,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.peaks <= 0 {
		e.peaks = DefaultPeaks
	}
	if e.minDur <= 0 {
		e.minDur = DefaultMinDuration
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: requestTimeout}
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.duration == nil {
		e.duration = YouTubeDuration(e.client)
	}
	return e
}

// YouTubeDuration looks the duration up through the YouTube player API.
func YouTubeDuration(hc *http.Client) DurationFunc {
	return func(ctx context.Context, videoID string) (time.Duration, error) {
		c := youtube.Client{HTTPClient: hc}
		v, err := c.GetVideoContext(ctx, videoID)
		if err != nil {
			return 0, err
		}
		return v.Duration, nil
	}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) ([]types.Segment, error) {
	src := req.VideoID
	if src == "" {
		src = req.URL
	}
	return e.Peaks(ctx, src, e.peaks, e.minDur)
}

// Peaks resolves src to a video ID, fetches its markers and returns up to n
// non-overlapping windows of at least minDur in timeline order.
func (e *Extractor) Peaks(ctx context.Context, src string, n int, minDur time.Duration) ([]types.Segment, error) {
	id, err := ytid.ParseVideoID(src)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = e.peaks
	}
	if minDur <= 0 {
		minDur = e.minDur
	}

	videoDur, err := e.duration(ctx, id)
	if err != nil {
		e.log.Warn("could not get duration, skipping end clamp", "video_id", id, "err", err)
		videoDur = 0
	} else if videoDur > 0 {
		e.log.Info("video duration", "video_id", id, "duration", format.Timestamp(videoDur))
	}

	markers, err := e.Markers(ctx, id)
	if err != nil {
		return nil, err
	}

	windows := highlights.SelectPeaks(markers, n, minDur, videoDur)
	if len(windows) == 0 {
		return nil, errors.New("could not identify peak segments")
	}
	out := make([]types.Segment, 0, len(windows))
	for i, w := range windows {
		score := math.Round(w.Intensity*100) / 10
		out = append(out, types.Segment{
			Title:  fmt.Sprintf("Peak Moment #%d", i+1),
			Start:  format.Timestamp(w.Start),
			End:    format.Timestamp(w.End),
			Reason: fmt.Sprintf("Most Replayed (intensity: %.1f%%)", w.Intensity*100),
			Score:  &score,
		})
	}
	e.log.Info("found peak segments", "video_id", id, "count", len(out))
	return out, nil
}

type markerJSON struct {
	StartMillis              float64 `json:"startMillis"`
	DurationMillis           float64 `json:"durationMillis"`
	IntensityScoreNormalized float64 `json:"intensityScoreNormalized"`
}

type videosResponse struct {
	Items []struct {
		MostReplayed *struct {
			Markers []markerJSON `json:"markers"`
		} `json:"mostReplayed"`
	} `json:"items"`
}

// Markers fetches the raw heat markers for a video ID.
func (e *Extractor) Markers(ctx context.Context, videoID string) ([]highlights.Marker, error) {
	q := url.Values{}
	q.Set("part", "mostReplayed")
	q.Set("id", videoID)
	endpoint := e.baseURL + "/videos?" + q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	e.log.Info("fetching most replayed data", "video_id", videoID)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("heatmap request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("heatmap status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body videosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode heatmap: %w", err)
	}
	if len(body.Items) == 0 || body.Items[0].MostReplayed == nil || len(body.Items[0].MostReplayed.Markers) == 0 {
		return nil, ErrNoData
	}

	raw := body.Items[0].MostReplayed.Markers
	out := make([]highlights.Marker, 0, len(raw))
	for _, m := range raw {
		out = append(out, highlights.Marker{
			Start:     millis(m.StartMillis),
			Duration:  millis(m.DurationMillis),
			Intensity: m.IntensityScoreNormalized,
		})
	}
	e.log.Info("found heatmap markers", "count", len(out))
	return out, nil
}

func millis(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Millisecond)))
}
