package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forPelevin/ytclipper/internal/ports/adapters/toolexec"
	"github.com/forPelevin/ytclipper/internal/types"
)

const (
	mergedFormat = "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=1080]+bestaudio/best[height<=1080]/best"
	muxedFormat  = "best[height<=720][ext=mp4]/best[ext=mp4]/best"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	outputTemplate = "%(id)s.%(ext)s"
	fallbackLang   = "en"
)

// ErrRateLimited marks a 429 from YouTube; switching language will not help.
var ErrRateLimited = errors.New("yt-dlp: rate limited (HTTP 429)")

// ErrNoSubtitles is returned when yt-dlp succeeds but writes no track.
var ErrNoSubtitles = errors.New("yt-dlp: no subtitles for requested language")

type Options struct {
	Bin string
	// FFmpeg is passed as --ffmpeg-location when set. Its presence (or an
	// ffmpeg on PATH) enables the merged high-quality format.
	FFmpeg      string
	CookiesFile string
	Timeout     time.Duration
	Logger      *slog.Logger
	Runner      toolexec.Runner
}

type Adapter struct {
	bin      string
	ffmpeg   string
	cookies  string
	timeout  time.Duration
	log      *slog.Logger
	run      toolexec.Runner
	lookPath func(string) (string, error)
}

func New(opts Options) *Adapter {
	a := &Adapter{
		bin:      opts.Bin,
		ffmpeg:   opts.FFmpeg,
		cookies:  opts.CookiesFile,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		run:      opts.Runner,
		lookPath: exec.LookPath,
	}
	if a.bin == "" {
		a.bin = "yt-dlp"
	}
	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}
	if a.run == nil {
		a.run = toolexec.Exec{}
	}
	return a
}

// ResolveVideo fetches id, title and duration without downloading.
func (a *Adapter) ResolveVideo(ctx context.Context, url string) (types.VideoInfo, error) {
	var jsonLine string
	args := []string{
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
		"--print", "%(.{id,title,duration})j",
	}
	args = a.appendCommon(args)
	args = append(args, url)

	_, err := a.run.Run(ctx, toolexec.Cmd{
		Path:    a.bin,
		Args:    args,
		Timeout: a.timeout,
		Line: func(stream toolexec.Stream, line string) {
			if stream == toolexec.StreamStdout && strings.HasPrefix(strings.TrimSpace(line), "{") {
				jsonLine = line
			}
		},
	})
	if err != nil {
		return types.VideoInfo{}, fmt.Errorf("yt-dlp resolve: %w", err)
	}
	if jsonLine == "" {
		return types.VideoInfo{}, errors.New("yt-dlp resolve: no metadata printed")
	}

	var raw struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal([]byte(jsonLine), &raw); err != nil {
		return types.VideoInfo{}, fmt.Errorf("yt-dlp resolve: parse metadata: %w", err)
	}
	if raw.ID == "" {
		return types.VideoInfo{}, errors.New("yt-dlp resolve: empty video id")
	}
	return types.VideoInfo{ID: raw.ID, Title: raw.Title, URL: url, Duration: raw.Duration}, nil
}

// DownloadVideo writes <id>.<ext> into dir.
func (a *Adapter) DownloadVideo(ctx context.Context, url, dir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("video URL is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"-o", filepath.Join(dir, outputTemplate),
	}
	if ff, ok := a.mergeTool(); ok {
		args = append(args, "-f", mergedFormat, "--merge-output-format", "mp4")
		if a.ffmpeg != "" {
			args = append(args, "--ffmpeg-location", ff)
		}
	} else {
		a.log.Warn("ffmpeg not found, using pre-muxed format")
		args = append(args, "-f", muxedFormat)
	}
	args = a.appendCommon(args)
	args = append(args, url)

	out, err := a.run.Run(ctx, a.cmd(args))
	if err != nil {
		return out, fmt.Errorf("yt-dlp download video: %w", classify(err))
	}
	return out, nil
}

// DownloadSubtitle fetches a VTT track for lang. If the primary language
// fails for any reason other than rate limiting, the automatic English track
// is tried once.
func (a *Adapter) DownloadSubtitle(ctx context.Context, url, dir, lang string, auto bool) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("video URL is required")
	}
	if lang == "" {
		lang = "id"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	out, err := a.downloadSubtitleOnce(ctx, url, dir, lang, auto)
	if err == nil {
		return out, nil
	}
	if lang == fallbackLang || errors.Is(err, ErrRateLimited) {
		return out, err
	}

	a.log.Warn("primary subtitle download failed, trying automatic English", "lang", lang, "error", err)
	fbOut, fbErr := a.downloadSubtitleOnce(ctx, url, dir, fallbackLang, true)
	if fbErr != nil {
		return out + "\n" + fbOut, fmt.Errorf("%w (fallback %s: %v)", err, fallbackLang, fbErr)
	}
	return out + "\n" + fbOut, nil
}

func (a *Adapter) downloadSubtitleOnce(ctx context.Context, url, dir, lang string, auto bool) (string, error) {
	before := vttFiles(dir)

	args := []string{
		"--no-playlist",
		"--skip-download",
		"--write-subs",
	}
	if auto {
		args = append(args, "--write-auto-subs")
	}
	args = append(args,
		"--sub-langs", lang,
		"--sub-format", "vtt",
		"--extractor-args", "youtube:player_client=android,web",
		"-o", filepath.Join(dir, outputTemplate),
	)
	args = a.appendCommon(args)
	args = append(args, url)

	out, err := a.run.Run(ctx, a.cmd(args))
	if err != nil {
		return out, fmt.Errorf("yt-dlp download subtitle (%s): %w", lang, classify(err))
	}
	if len(vttFiles(dir)) <= len(before) && !hasLangTrack(dir, lang) {
		return out, fmt.Errorf("%w: %s", ErrNoSubtitles, lang)
	}
	return out, nil
}

// appendCommon adds request pacing, client identity and cookies.
func (a *Adapter) appendCommon(args []string) []string {
	args = append(args,
		"--sleep-interval", "5",
		"--sleep-requests", "2",
		"--user-agent", userAgent,
	)
	if a.cookies != "" {
		if abs, err := filepath.Abs(a.cookies); err == nil {
			if _, err := os.Stat(abs); err == nil {
				args = append(args, "--cookies", abs)
			}
		}
	}
	return args
}

func (a *Adapter) cmd(args []string) toolexec.Cmd {
	return toolexec.Cmd{
		Path:    a.bin,
		Args:    args,
		Timeout: a.timeout,
		Line: func(_ toolexec.Stream, line string) {
			a.log.Debug(line, "tool", "yt-dlp")
		},
	}
}

func (a *Adapter) mergeTool() (string, bool) {
	if a.ffmpeg != "" {
		return a.ffmpeg, true
	}
	p, err := a.lookPath("ffmpeg")
	return p, err == nil
}

func classify(err error) error {
	var te *toolexec.Error
	if errors.As(err, &te) && strings.Contains(te.Output, "429") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

func vttFiles(dir string) []string {
	m, _ := filepath.Glob(filepath.Join(dir, "*.vtt"))
	return m
}

func hasLangTrack(dir, lang string) bool {
	m, _ := filepath.Glob(filepath.Join(dir, "*."+lang+".vtt"))
	return len(m) > 0
}
