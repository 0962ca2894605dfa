package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/toolexec"
	"github.com/forPelevin/ytclipper/internal/runstore"
	"github.com/forPelevin/ytclipper/internal/types"
)

var (
	ErrNoFFmpeg      = errors.New("ffmpeg not found")
	ErrMissingFilter = errors.New("ffmpeg lacks a required filter")
)

// fullBuildPaths are Homebrew ffmpeg-full locations (Apple Silicon, Intel).
var fullBuildPaths = []string{
	"/opt/homebrew/opt/ffmpeg-full/bin/ffmpeg",
	"/usr/local/opt/ffmpeg-full/bin/ffmpeg",
}

const (
	tempPrefix     = "youtube_clipper_"
	probeTimeout   = 5 * time.Second
	defaultFont    = 24
	defaultMarginV = 30
)

type Options struct {
	// Bin overrides detection entirely (FFMPEG_PATH).
	Bin     string
	Timeout time.Duration
	Logger  *slog.Logger
	Runner  toolexec.Runner
}

type Adapter struct {
	override string
	timeout  time.Duration
	log      *slog.Logger
	run      toolexec.Runner

	goos     string
	exists   func(string) bool
	lookPath func(string) (string, error)

	mu      sync.Mutex
	bin     string
	filters string
}

func New(opts Options) *Adapter {
	a := &Adapter{
		override: opts.Bin,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		run:      opts.Runner,
		goos:     runtime.GOOS,
		exists:   runstore.Exists,
		lookPath: exec.LookPath,
	}
	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}
	if a.run == nil {
		a.run = toolexec.Exec{}
	}
	return a
}

// Locate returns the ffmpeg binary to use. On macOS the Homebrew
// ffmpeg-full build wins over PATH because it ships libass.
func (a *Adapter) Locate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bin != "" {
		return a.bin, nil
	}
	if a.override != "" {
		a.bin = a.override
		return a.bin, nil
	}
	if a.goos == "darwin" {
		for _, p := range fullBuildPaths {
			if a.exists(p) {
				a.bin = p
				return p, nil
			}
		}
	}
	p, err := a.lookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("%w\n%s", ErrNoFFmpeg, InstallHint(a.goos))
	}
	a.bin = p
	return p, nil
}

// HasFilter reports whether the located ffmpeg advertises the named filter.
func (a *Adapter) HasFilter(ctx context.Context, name string) (bool, error) {
	bin, err := a.Locate()
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	filters := a.filters
	a.mu.Unlock()
	if filters == "" {
		out, err := a.run.Run(ctx, toolexec.Cmd{
			Path:    bin,
			Args:    []string{"-hide_banner", "-filters"},
			Timeout: probeTimeout,
		})
		if err != nil {
			return false, fmt.Errorf("ffmpeg probe filters: %w", err)
		}
		filters = strings.ToLower(out)
		a.mu.Lock()
		a.filters = filters
		a.mu.Unlock()
	}
	return strings.Contains(filters, strings.ToLower(name)), nil
}

// CutClip re-encodes [start, end] of in into out. Timestamps are passed to
// ffmpeg as given.
func (a *Adapter) CutClip(ctx context.Context, in, start, end, out string) (string, error) {
	bin, err := a.Locate()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(in); err != nil {
		return "", fmt.Errorf("ffmpeg cut clip: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}

	args := []string{
		"-hide_banner",
		"-y",
		"-ss", start,
		"-to", end,
		"-i", in,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		out,
	}
	res, err := a.run.Run(ctx, a.cmd(bin, "", args))
	if err != nil {
		return res, fmt.Errorf("ffmpeg cut clip: %w", err)
	}
	return res, nil
}

// Burn renders subtitles and/or a watermark onto the video. Inputs are
// copied into a private temp directory and ffmpeg runs there with relative
// paths, so spaces and colons in user paths never reach the filter graph.
// With nothing to render the video is copied as-is.
func (a *Adapter) Burn(ctx context.Context, req types.BurnRequest) (string, error) {
	if _, err := os.Stat(req.Video); err != nil {
		return "", fmt.Errorf("video file: %w", err)
	}
	withSubs := false
	if req.Subtitle != "" && !strings.EqualFold(req.Subtitle, "none") {
		st, err := os.Stat(req.Subtitle)
		if err != nil {
			return "", fmt.Errorf("subtitle file: %w", err)
		}
		withSubs = st.Size() > 0
		if !withSubs {
			a.log.Info("subtitle slice is empty, burning without subtitles", "subtitle", req.Subtitle)
		}
	}
	watermark := strings.TrimSpace(req.Watermark)

	if !withSubs && watermark == "" {
		if err := runstore.CopyFile(req.Video, req.Output); err != nil {
			return "", fmt.Errorf("copy video: %w", err)
		}
		return "copied " + filepath.Base(req.Video) + " (nothing to burn)", nil
	}

	bin, err := a.Locate()
	if err != nil {
		return "", err
	}
	if withSubs {
		if err := a.require(ctx, "subtitles"); err != nil {
			return "", err
		}
	}
	if watermark != "" {
		if err := a.require(ctx, "drawtext"); err != nil {
			return "", err
		}
	}

	tmp, err := os.MkdirTemp("", tempPrefix)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := runstore.CopyFile(req.Video, filepath.Join(tmp, "video.mp4")); err != nil {
		return "", err
	}
	if withSubs {
		if err := runstore.CopyFile(req.Subtitle, filepath.Join(tmp, "subtitle.srt")); err != nil {
			return "", err
		}
	}

	args := []string{
		"-hide_banner",
		"-i", "video.mp4",
		"-vf", burnFilters(req, withSubs, a.fontFile()),
		"-c:a", "copy",
		"-y",
		"output.mp4",
	}
	res, err := a.run.Run(ctx, a.cmd(bin, tmp, args))
	if err != nil {
		return res, fmt.Errorf("ffmpeg burn: %w", err)
	}

	produced := filepath.Join(tmp, "output.mp4")
	if !runstore.Exists(produced) {
		return res, errors.New("ffmpeg burn: output file not created")
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return res, err
	}
	if err := runstore.MoveFile(produced, req.Output); err != nil {
		return res, fmt.Errorf("move output: %w", err)
	}
	if st, err := os.Stat(req.Output); err == nil {
		a.log.Info("burned clip", "output", req.Output, "size", format.Bytes(st.Size()))
	}
	return res, nil
}

func (a *Adapter) require(ctx context.Context, filter string) error {
	ok, err := a.HasFilter(ctx, filter)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s\n%s", ErrMissingFilter, filter, InstallHint(a.goos))
	}
	return nil
}

func (a *Adapter) cmd(bin, dir string, args []string) toolexec.Cmd {
	return toolexec.Cmd{
		Path:    bin,
		Args:    args,
		Dir:     dir,
		Timeout: a.timeout,
		Line: func(_ toolexec.Stream, line string) {
			a.log.Debug(line, "tool", "ffmpeg")
		},
	}
}

func (a *Adapter) fontFile() string {
	var p string
	switch a.goos {
	case "windows":
		p = "C:/Windows/Fonts/arial.ttf"
	case "darwin":
		p = "/System/Library/Fonts/Helvetica.ttc"
	default:
		return ""
	}
	if !a.exists(p) {
		return ""
	}
	return p
}

func burnFilters(req types.BurnRequest, withSubs bool, fontFile string) string {
	fontSize := req.FontSize
	if fontSize <= 0 {
		fontSize = defaultFont
	}
	marginV := req.MarginV
	if marginV <= 0 {
		marginV = defaultMarginV
	}

	var filters []string
	if withSubs {
		filters = append(filters, fmt.Sprintf("subtitles=subtitle.srt:force_style='FontSize=%d,MarginV=%d'", fontSize, marginV))
	}
	if wm := strings.TrimSpace(req.Watermark); wm != "" {
		font := ""
		if fontFile != "" {
			font = ":fontfile='" + escapeFilterPath(fontFile) + "'"
		}
		filters = append(filters, "drawtext=text='"+escapeDrawtext(wm)+"'"+font+
			":x=(w-text_w)/2:y=(h-text_h)/2:fontsize=50:fontcolor=white@0.3"+
			":shadowcolor=black@0.5:shadowx=3:shadowy=3")
	}
	return strings.Join(filters, ",")
}

func escapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\u2019")
	s = strings.ReplaceAll(s, ":", "\\:")
	s = strings.ReplaceAll(s, "%", "\\%")
	return s
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return p
}

// InstallHint explains how to get an ffmpeg with libass and drawtext.
func InstallHint(goos string) string {
	switch goos {
	case "darwin":
		return "Install the full build: brew install ffmpeg-full\n" +
			"(or set FFMPEG_PATH to an ffmpeg built with libass and freetype)"
	case "windows":
		return "Download a full build from https://www.gyan.dev/ffmpeg/builds/ and set FFMPEG_PATH to its ffmpeg.exe"
	default:
		return "Install ffmpeg with libass support (e.g. sudo apt install ffmpeg)\n" +
			"(or set FFMPEG_PATH to an ffmpeg built with libass and freetype)"
	}
}
