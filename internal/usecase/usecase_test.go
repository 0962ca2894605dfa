package usecase

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/runstore"
	"github.com/forPelevin/ytclipper/internal/types"
)

const (
	testID  = "abcdefghijk"
	testURL = "https://www.youtube.com/watch?v=" + testID
)

type fakeSource struct {
	resolves, videos, subs int
	noSubtitle             bool
	noVideo                bool
}

func (f *fakeSource) ResolveVideo(_ context.Context, url string) (types.VideoInfo, error) {
	f.resolves++
	return types.VideoInfo{ID: testID, Title: "Test Video", URL: url}, nil
}

func (f *fakeSource) DownloadVideo(_ context.Context, _, dir string) (string, error) {
	f.videos++
	if f.noVideo {
		return "ERROR: Private video", errors.New("exit status 1")
	}
	return "ok", os.WriteFile(filepath.Join(dir, testID+".mp4"), []byte("video"), 0o644)
}

func (f *fakeSource) DownloadSubtitle(_ context.Context, _, dir, lang string, _ bool) (string, error) {
	f.subs++
	if f.noSubtitle {
		return "no subs", errors.New("no subtitles available")
	}
	return "ok", os.WriteFile(filepath.Join(dir, testID+"."+lang+".vtt"), []byte("WEBVTT\n"), 0o644)
}

type fakeExtractor struct {
	segs  []types.Segment
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, req ports.ExtractRequest) ([]types.Segment, error) {
	f.calls++
	if req.VideoID != testID || req.SubtitlePath == "" {
		return nil, errors.New("unexpected extract request")
	}
	return f.segs, nil
}

type fakeMedia struct {
	mu       sync.Mutex
	cuts     []string
	slices   []string
	burns    []types.BurnRequest
	failFrom string
}

func (f *fakeMedia) CutClip(_ context.Context, _, start, _, out string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cuts = append(f.cuts, out)
	if start == f.failFrom {
		return "boom", errors.New("exit status 1")
	}
	return "ok", os.WriteFile(out, []byte("clip"), 0o644)
}

func (f *fakeMedia) SliceSubtitle(_ context.Context, _, _, _, out string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slices = append(f.slices, out)
	return os.WriteFile(out, []byte("1\n"), 0o644)
}

func (f *fakeMedia) Burn(_ context.Context, req types.BurnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.burns = append(f.burns, req)
	return "ok", os.WriteFile(req.Output, []byte("final"), 0o644)
}

func threeSegments() []types.Segment {
	return []types.Segment{
		{Title: "Opening Joke", Start: "00:00:10", End: "00:00:50", Reason: "funny"},
		{Title: "Big Reveal!", Start: "00:02:00", End: "00:03:00", Reason: "surprise"},
		{Title: "", Start: "00:05:00", End: "00:05:45", Reason: "insight"},
	}
}

type harness struct {
	src   *fakeSource
	ext   *fakeExtractor
	media *fakeMedia
	uc    Usecase
}

func newHarness() *harness {
	h := &harness{
		src:   &fakeSource{},
		ext:   &fakeExtractor{segs: threeSegments()},
		media: &fakeMedia{},
	}
	h.uc = New(Deps{Source: h.src, Extractor: h.ext, Clipper: h.media, Slicer: h.media, Burner: h.media})
	return h
}

func (h *harness) invocations() int {
	return h.src.resolves + h.src.videos + h.src.subs + h.ext.calls +
		len(h.media.cuts) + len(h.media.slices) + len(h.media.burns)
}

func seedWorkDir(t *testing.T, root string, segs []types.Segment) string {
	t.Helper()
	dir := filepath.Join(root, testID)
	if err := runstore.WriteJSON(filepath.Join(dir, InfoFile), types.VideoInfo{ID: testID, Title: "Test Video"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, testID+".mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, testID+".id.vtt"), []byte("WEBVTT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if segs != nil {
		if err := runstore.WriteJSON(filepath.Join(dir, ChaptersFile), segs); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_FullRunThenRerunInvokesNothing(t *testing.T) {
	root := t.TempDir()
	in := Input{URL: testURL, ResultsDir: root, BurnSubtitles: true}

	first := newHarness()
	res, err := first.uc.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.src.resolves != 1 || first.src.videos != 1 || first.src.subs != 1 || first.ext.calls != 1 {
		t.Fatalf("unexpected first-run calls: %+v extract=%d", *first.src, first.ext.calls)
	}
	manifest1, err := os.ReadFile(res.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	second := newHarness()
	res2, err := second.uc.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := second.invocations(); n != 0 {
		t.Fatalf("expected zero invocations on re-run, got %d", n)
	}
	manifest2, err := os.ReadFile(res2.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !bytes.Equal(manifest1, manifest2) {
		t.Fatalf("manifest changed on re-run:\n%s\n---\n%s", manifest1, manifest2)
	}
}

func TestRun_CachedSegmentsProduceClipsInOrder(t *testing.T) {
	root := t.TempDir()
	dir := seedWorkDir(t, root, threeSegments())

	h := newHarness()
	res, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root, BurnSubtitles: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.ext.calls != 0 {
		t.Fatalf("expected analyze to be skipped, got %d calls", h.ext.calls)
	}
	if h.src.resolves+h.src.videos+h.src.subs != 0 {
		t.Fatalf("expected no source calls, got %+v", *h.src)
	}
	if len(h.media.cuts) != 3 || len(h.media.slices) != 3 || len(h.media.burns) != 3 {
		t.Fatalf("expected 3/3/3 media calls, got %d/%d/%d", len(h.media.cuts), len(h.media.slices), len(h.media.burns))
	}

	var m types.Manifest
	if err := runstore.ReadJSON(filepath.Join(dir, ManifestFile), &m); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.VideoID != testID || m.VideoTitle != "Test Video" {
		t.Fatalf("unexpected manifest header: %+v", m)
	}
	want := []string{
		testID + "_clip1_Opening Joke_final.mp4",
		testID + "_clip2_Big Reveal_final.mp4",
		testID + "_clip3_Clip 3_final.mp4",
	}
	if len(m.Clips) != len(want) {
		t.Fatalf("expected %d clips, got %+v", len(want), m.Clips)
	}
	for i, c := range m.Clips {
		if filepath.Base(c.File) != want[i] {
			t.Fatalf("clip %d file %q, want %q", i, c.File, want[i])
		}
		if c.Title != threeSegments()[i].Title {
			t.Fatalf("clip %d title %q", i, c.Title)
		}
	}
	if len(res.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
}

func TestRun_SegmentFailureIsIsolated(t *testing.T) {
	root := t.TempDir()
	seedWorkDir(t, root, threeSegments())
	ch := make(chan events.Event, 256)

	h := newHarness()
	h.media.failFrom = "00:02:00"
	res, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root, Events: ch})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Manifest.Clips) != 2 {
		t.Fatalf("expected 2 clips in manifest, got %d", len(res.Manifest.Clips))
	}
	if len(res.Failed) != 1 || res.Failed[0] != 2 {
		t.Fatalf("expected segment 2 to fail, got %v", res.Failed)
	}
	if len(h.media.cuts) != 3 || len(h.media.burns) != 2 {
		t.Fatalf("expected loop to continue after failure, cuts=%d burns=%d", len(h.media.cuts), len(h.media.burns))
	}

	close(ch)
	failed := 0
	for e := range ch {
		if e.Kind == events.KindSegmentFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one segment_failed event, got %d", failed)
	}
}

func TestRun_BurnRequestFollowsOptions(t *testing.T) {
	tests := []struct {
		name      string
		burnSubs  bool
		watermark string
		wantSubs  bool
	}{
		{name: "subs and watermark", burnSubs: true, watermark: "@me", wantSubs: true},
		{name: "watermark only", burnSubs: false, watermark: "@me"},
		{name: "plain copy", burnSubs: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			seedWorkDir(t, root, threeSegments()[:1])

			h := newHarness()
			_, err := h.uc.Run(context.Background(), Input{
				URL:           testURL,
				ResultsDir:    root,
				BurnSubtitles: tt.burnSubs,
				Watermark:     tt.watermark,
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(h.media.burns) != 1 {
				t.Fatalf("expected the burn stage to run once, got %d", len(h.media.burns))
			}
			req := h.media.burns[0]
			if (req.Subtitle != "") != tt.wantSubs {
				t.Fatalf("subtitle=%q, wantSubs=%v", req.Subtitle, tt.wantSubs)
			}
			if req.Watermark != tt.watermark {
				t.Fatalf("watermark=%q, want %q", req.Watermark, tt.watermark)
			}
		})
	}
}

func TestRun_CorruptCacheIsReanalyzed(t *testing.T) {
	root := t.TempDir()
	dir := seedWorkDir(t, root, nil)
	if err := os.WriteFile(filepath.Join(dir, ChaptersFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness()
	if _, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.ext.calls != 1 {
		t.Fatalf("expected re-analysis, got %d calls", h.ext.calls)
	}
	var cached []types.Segment
	if err := runstore.ReadJSON(filepath.Join(dir, ChaptersFile), &cached); err != nil || len(cached) != 3 {
		t.Fatalf("expected cache rewritten with 3 segments, got %d (%v)", len(cached), err)
	}
}

func TestRun_NoSegmentsIsFatal(t *testing.T) {
	root := t.TempDir()
	dir := seedWorkDir(t, root, nil)

	h := newHarness()
	h.ext.segs = nil
	_, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root})
	if !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
	if runstore.Exists(filepath.Join(dir, ChaptersFile)) {
		t.Fatalf("empty analysis must not be cached")
	}
}

func TestRun_MissingVideoCarriesToolError(t *testing.T) {
	h := newHarness()
	h.src.noVideo = true
	_, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: t.TempDir()})
	if !errors.Is(err, ErrNoVideo) {
		t.Fatalf("expected ErrNoVideo, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Fatalf("error should carry the download failure: %v", err)
	}
	if h.src.subs != 0 {
		t.Fatalf("subtitle stage must not run without a video")
	}
}

func TestRun_MissingSubtitleIsFatal(t *testing.T) {
	root := t.TempDir()
	ch := make(chan events.Event, 256)

	h := newHarness()
	h.src.noSubtitle = true
	_, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root, Events: ch})
	if !errors.Is(err, ErrNoSubtitle) {
		t.Fatalf("expected ErrNoSubtitle, got %v", err)
	}
	if h.ext.calls != 0 {
		t.Fatalf("analysis must not run without a subtitle")
	}
	close(ch)
	var last events.Event
	for e := range ch {
		last = e
	}
	if last.Kind != events.KindRunFailed {
		t.Fatalf("expected run_failed as last event, got %s", last.Kind)
	}
}

func TestRun_FallbackSubtitleTrackIsUsed(t *testing.T) {
	root := t.TempDir()
	dir := seedWorkDir(t, root, threeSegments()[:1])
	if err := os.Remove(filepath.Join(dir, testID+".id.vtt")); err != nil {
		t.Fatal(err)
	}
	en := filepath.Join(dir, testID+".en.vtt")
	if err := os.WriteFile(en, []byte("WEBVTT\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness()
	if _, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.src.subs != 0 {
		t.Fatalf("expected existing fallback track to skip download")
	}
}

func TestRun_UnparsableURLResolvesMetadata(t *testing.T) {
	root := t.TempDir()
	h := newHarness()
	res, err := h.uc.Run(context.Background(), Input{URL: "https://example.com/some/video", ResultsDir: root})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.src.resolves != 1 {
		t.Fatalf("expected one metadata call, got %d", h.src.resolves)
	}
	if !runstore.Exists(filepath.Join(res.WorkDir, InfoFile)) {
		t.Fatalf("expected info.json to be written")
	}
}

func TestRun_EventSequence(t *testing.T) {
	root := t.TempDir()
	ch := make(chan events.Event, 256)

	h := newHarness()
	h.ext.segs = threeSegments()[:1]
	if _, err := h.uc.Run(context.Background(), Input{URL: testURL, ResultsDir: root, Events: ch}); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(ch)

	var started []events.Stage
	var last events.Event
	for e := range ch {
		if e.Kind == events.KindStageStarted {
			started = append(started, e.Stage)
		}
		last = e
	}
	want := []events.Stage{
		events.StageSetupDownload,
		events.StageSubtitleDownload,
		events.StageAnalyze,
		events.StageClipLoop,
		events.StageManifest,
	}
	if len(started) != len(want) {
		t.Fatalf("expected %d stage starts, got %v", len(want), started)
	}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, started[i], want[i])
		}
	}
	if last.Kind != events.KindRunDone {
		t.Fatalf("expected run_done last, got %s", last.Kind)
	}
}

func TestClipBaseName(t *testing.T) {
	tests := []struct {
		title string
		idx   int
		want  string
	}{
		{"Hello, World!", 1, testID + "_clip1_Hello World"},
		{"", 3, testID + "_clip3_Clip 3"},
		{"???", 2, testID + "_clip2_Clip 2"},
		{"Kocak Banget 😂", 4, testID + "_clip4_Kocak Banget"},
	}
	for _, tt := range tests {
		if got := ClipBaseName(testID, tt.idx, tt.title); got != tt.want {
			t.Fatalf("ClipBaseName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
