package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forPelevin/ytclipper/internal/domain/youtube"
	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/runstore"
	"github.com/forPelevin/ytclipper/internal/types"
)

var (
	ErrNoSegments = errors.New("no segments found")
	ErrNoSubtitle = errors.New("no subtitle found")
	ErrNoVideo    = errors.New("video download failed or file not found")
)

const (
	InfoFile     = "info.json"
	ChaptersFile = "chapters.json"
	ManifestFile = "results.json"

	DefaultLang = "id"
)

var videoExts = []string{".mp4", ".mkv", ".webm", ".mov"}

type Deps struct {
	Source    ports.VideoSource
	Extractor ports.SegmentExtractor
	Clipper   ports.Clipper
	Slicer    ports.SubtitleSlicer
	Burner    ports.Burner
	Logger    *slog.Logger
}

type Usecase struct {
	d   Deps
	log *slog.Logger
}

func New(d Deps) Usecase {
	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return Usecase{d: d, log: log}
}

type Input struct {
	URL        string
	ResultsDir string
	// SubtitleLang defaults to DefaultLang.
	SubtitleLang  string
	BurnSubtitles bool
	Watermark     string
	FontSize      int
	MarginV       int

	Events chan<- events.Event
}

type Result struct {
	WorkDir      string
	Manifest     types.Manifest
	ManifestPath string
	// Failed lists 1-based indexes of segments that could not be produced.
	Failed []int
}

// Run executes the five stages for one URL. Every stage whose artifact is
// already present in the working directory is skipped, so a finished run
// repeated against the same directory invokes no adapter at all.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	em := events.NewEmitter(in.Events)
	res, err := u.run(ctx, in, em)
	if err != nil {
		em.Emit(events.StageNone, events.KindRunFailed, err.Error(), nil)
		return res, err
	}
	em.Emit(events.StageManifest, events.KindRunDone,
		fmt.Sprintf("Automation complete: %d clips", len(res.Manifest.Clips)),
		map[string]any{"work_dir": res.WorkDir, "clips": len(res.Manifest.Clips), "failed": len(res.Failed)})
	return res, nil
}

func (u Usecase) run(ctx context.Context, in Input, em events.Emitter) (Result, error) {
	if strings.TrimSpace(in.URL) == "" {
		return Result{}, errors.New("url is required")
	}
	resultsDir := in.ResultsDir
	if resultsDir == "" {
		resultsDir = "results"
	}

	// 1. setup + video
	em.Emit(events.StageSetupDownload, events.KindStageStarted, events.StageSetupDownload.Title(), nil)
	info, workDir, err := u.resolve(ctx, in.URL, resultsDir)
	if err != nil {
		return Result{}, err
	}
	res := Result{WorkDir: workDir}
	em.Emit(events.StageSetupDownload, events.KindLog, "Working directory: "+workDir,
		map[string]any{"video_id": info.ID, "title": info.Title})

	video := FindVideo(workDir, info.ID)
	if video != "" {
		em.Emit(events.StageSetupDownload, events.KindStageSkipped, "Video already exists, skipping download.", map[string]any{"file": video})
	} else {
		_, dlErr := u.d.Source.DownloadVideo(ctx, in.URL, workDir)
		video = FindVideo(workDir, info.ID)
		if video == "" {
			if dlErr != nil {
				return res, fmt.Errorf("%w: %v", ErrNoVideo, dlErr)
			}
			return res, ErrNoVideo
		}
		if dlErr != nil {
			u.log.Warn("video download reported an error", "err", dlErr)
		}
		em.Emit(events.StageSetupDownload, events.KindStageDone, "Downloaded "+filepath.Base(video), map[string]any{"file": video})
	}

	// 2. subtitle
	em.Emit(events.StageSubtitleDownload, events.KindStageStarted, events.StageSubtitleDownload.Title(), nil)
	lang := in.SubtitleLang
	if lang == "" {
		lang = DefaultLang
	}
	subtitle := FindSubtitle(workDir, info.ID, lang)
	if subtitle != "" {
		em.Emit(events.StageSubtitleDownload, events.KindStageSkipped, "Subtitle already exists, skipping download.", map[string]any{"file": subtitle})
	} else {
		_, dlErr := u.d.Source.DownloadSubtitle(ctx, in.URL, workDir, lang, true)
		subtitle = FindSubtitle(workDir, info.ID, lang)
		if subtitle == "" {
			if dlErr != nil {
				return res, fmt.Errorf("%w: %v", ErrNoSubtitle, dlErr)
			}
			return res, ErrNoSubtitle
		}
		em.Emit(events.StageSubtitleDownload, events.KindStageDone, "Using subtitle: "+filepath.Base(subtitle), map[string]any{"file": subtitle})
	}

	// 3. analyze
	em.Emit(events.StageAnalyze, events.KindStageStarted, events.StageAnalyze.Title(), nil)
	segs, err := u.segments(ctx, em, in.URL, info.ID, subtitle, workDir)
	if err != nil {
		return res, err
	}

	// 4. clips
	em.Emit(events.StageClipLoop, events.KindStageStarted, fmt.Sprintf("Processing %d Clips...", len(segs)),
		map[string]any{"segments": len(segs)})
	m := types.Manifest{VideoID: info.ID, VideoTitle: info.Title, Clips: []types.ManifestClip{}}
	for i, seg := range segs {
		idx := i + 1
		final, err := u.processSegment(ctx, em, in, idx, seg, info.ID, video, subtitle, workDir)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			u.log.Error("segment failed", "index", idx, "title", seg.Title, "err", err)
			em.Emit(events.StageClipLoop, events.KindSegmentFailed, fmt.Sprintf("Clip %d failed: %v", idx, err),
				map[string]any{"index": idx, "title": seg.Title})
			res.Failed = append(res.Failed, idx)
			continue
		}
		m.Clips = append(m.Clips, types.ManifestClip{Title: seg.Title, File: filepath.ToSlash(final)})
	}
	em.Emit(events.StageClipLoop, events.KindStageDone,
		fmt.Sprintf("Created %d of %d clips", len(m.Clips), len(segs)), nil)

	// 5. manifest
	em.Emit(events.StageManifest, events.KindStageStarted, events.StageManifest.Title(), nil)
	manifestPath := filepath.Join(workDir, ManifestFile)
	if err := runstore.WriteJSON(manifestPath, m); err != nil {
		return res, fmt.Errorf("write manifest: %w", err)
	}
	res.Manifest = m
	res.ManifestPath = manifestPath
	em.Emit(events.StageManifest, events.KindStageDone, "Manifest written: "+manifestPath, map[string]any{"file": manifestPath})
	return res, nil
}

// resolve finds the video identity and working directory. The ID comes from
// the URL when possible so cached info.json avoids a metadata call.
func (u Usecase) resolve(ctx context.Context, url, resultsDir string) (types.VideoInfo, string, error) {
	if id, err := youtube.ParseVideoID(url); err == nil {
		workDir := filepath.Join(resultsDir, id)
		var info types.VideoInfo
		if err := runstore.ReadJSON(filepath.Join(workDir, InfoFile), &info); err == nil && info.ID == id {
			return info, workDir, nil
		}
	}

	info, err := u.d.Source.ResolveVideo(ctx, url)
	if err != nil {
		return types.VideoInfo{}, "", fmt.Errorf("failed to extract info: %w", err)
	}
	workDir := filepath.Join(resultsDir, info.ID)
	if err := runstore.Mkdir(workDir); err != nil {
		return types.VideoInfo{}, "", err
	}
	info.URL = url
	if err := runstore.WriteJSON(filepath.Join(workDir, InfoFile), info); err != nil {
		return types.VideoInfo{}, "", fmt.Errorf("write info: %w", err)
	}
	return info, workDir, nil
}

func (u Usecase) segments(ctx context.Context, em events.Emitter, url, id, subtitle, workDir string) ([]types.Segment, error) {
	cache := filepath.Join(workDir, ChaptersFile)
	if runstore.Exists(cache) {
		var segs []types.Segment
		err := runstore.ReadJSON(cache, &segs)
		switch {
		case err != nil:
			u.log.Warn("failed to load analysis cache, re-running analysis", "file", cache, "err", err)
		case len(segs) == 0:
			u.log.Warn("analysis cache is empty, re-running analysis", "file", cache)
		default:
			em.Emit(events.StageAnalyze, events.KindStageSkipped, "Using existing analysis from: "+cache,
				map[string]any{"segments": len(segs)})
			return segs, nil
		}
	}

	segs, err := u.d.Extractor.Extract(ctx, ports.ExtractRequest{URL: url, VideoID: id, SubtitlePath: subtitle})
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	if len(segs) == 0 {
		return nil, ErrNoSegments
	}
	if err := runstore.WriteJSON(cache, segs); err != nil {
		return nil, fmt.Errorf("write analysis cache: %w", err)
	}
	em.Emit(events.StageAnalyze, events.KindStageDone, fmt.Sprintf("Identified %d highlights.", len(segs)),
		map[string]any{"segments": len(segs)})
	return segs, nil
}

// processSegment cuts, slices and burns one segment. It returns the final
// clip path; an existing final clip short-circuits the whole segment.
func (u Usecase) processSegment(
	ctx context.Context,
	em events.Emitter,
	in Input,
	idx int,
	seg types.Segment,
	id, video, subtitle, workDir string,
) (string, error) {
	base := ClipBaseName(id, idx, seg.Title)
	clip := filepath.Join(workDir, base+".mp4")
	subClip := filepath.Join(workDir, base+".srt")
	final := filepath.Join(workDir, base+"_final.mp4")
	data := map[string]any{"index": idx, "title": seg.Title, "start": seg.Start, "end": seg.End}

	if runstore.Exists(final) {
		em.Emit(events.StageClipLoop, events.KindSegmentSkipped,
			fmt.Sprintf("Clip %d: final clip already exists. Skipping.", idx), data)
		return final, nil
	}
	em.Emit(events.StageClipLoop, events.KindSegmentStarted,
		fmt.Sprintf("Clip %d: %s (%s - %s)", idx, seg.Title, seg.Start, seg.End), data)

	if _, err := u.d.Clipper.CutClip(ctx, video, seg.Start, seg.End, clip); err != nil {
		return "", fmt.Errorf("clip: %w", err)
	}
	if err := u.d.Slicer.SliceSubtitle(ctx, subtitle, seg.Start, seg.End, subClip); err != nil {
		return "", fmt.Errorf("extract subtitle: %w", err)
	}

	req := types.BurnRequest{
		Video:     clip,
		Output:    final,
		Watermark: in.Watermark,
		FontSize:  in.FontSize,
		MarginV:   in.MarginV,
	}
	if in.BurnSubtitles {
		req.Subtitle = subClip
	}
	if _, err := u.d.Burner.Burn(ctx, req); err != nil {
		return "", fmt.Errorf("burn: %w", err)
	}
	em.Emit(events.StageClipLoop, events.KindSegmentDone,
		fmt.Sprintf("Clip %d done: %s", idx, filepath.Base(final)), data)
	return final, nil
}

// ClipBaseName is <id>_clip<idx>_<sanitized title>.
func ClipBaseName(id string, idx int, title string) string {
	safe := format.SanitizeTitle(title)
	if safe == "" {
		safe = fmt.Sprintf("Clip %d", idx)
	}
	return fmt.Sprintf("%s_clip%d_%s", id, idx, safe)
}

// FindVideo returns the downloaded video for id in dir, or "".
func FindVideo(dir, id string) string {
	for _, ext := range videoExts {
		p := filepath.Join(dir, id+ext)
		if runstore.Exists(p) {
			return p
		}
	}
	return ""
}

// FindSubtitle prefers the <id>.<lang>.vtt track and falls back to any
// other track for id, such as the English fallback.
func FindSubtitle(dir, id, lang string) string {
	p := filepath.Join(dir, id+"."+lang+".vtt")
	if runstore.Exists(p) {
		return p
	}
	matches, _ := filepath.Glob(filepath.Join(dir, globEscape(id)+"*.vtt"))
	sort.Strings(matches)
	for _, m := range matches {
		if runstore.Exists(m) {
			return m
		}
	}
	return ""
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
