package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/heatmap"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/llm"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/subslice"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/ytdlp"
	"github.com/forPelevin/ytclipper/internal/usecase"
)

const (
	MethodAI      = "ai"
	MethodHeatmap = "heatmap"
)

var ErrAPIKeyRequired = errors.New("API key is required for AI analysis")

// ToolOptions locate the external binaries shared by every stage.
type ToolOptions struct {
	FFmpegPath string
	YTDLPPath  string
	Cookies    string
	// Timeout bounds each single tool invocation; zero means unbounded.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Tools struct {
	Source *ytdlp.Adapter
	FFmpeg *ffmpeg.Adapter
	Slicer *subslice.Adapter
}

func NewTools(o ToolOptions) Tools {
	return Tools{
		Source: ytdlp.New(ytdlp.Options{
			Bin:         o.YTDLPPath,
			FFmpeg:      o.FFmpegPath,
			CookiesFile: o.Cookies,
			Timeout:     o.Timeout,
			Logger:      o.Logger,
		}),
		FFmpeg: ffmpeg.New(ffmpeg.Options{Bin: o.FFmpegPath, Timeout: o.Timeout, Logger: o.Logger}),
		Slicer: subslice.New(o.Logger),
	}
}

type Config struct {
	URL            string
	ResultsDir     string
	AnalysisMethod string

	APIKey    string
	Model     string
	Providers []llm.Provider

	HeatmapURL  string
	Peaks       int
	MinDuration time.Duration

	SubtitleLang  string
	BurnSubtitles bool
	Watermark     string
	FontSize      int
	MarginV       int

	Tools  ToolOptions
	Logger *slog.Logger
	Events chan<- events.Event
	Getenv func(string) string

	// HTTPClient is used by the analysis adapters when set.
	HTTPClient *http.Client
}

func (c Config) getenv() func(string) string {
	if c.Getenv != nil {
		return c.Getenv
	}
	return os.Getenv
}

func (c Config) method() string {
	m := strings.ToLower(strings.TrimSpace(c.AnalysisMethod))
	if m == "" {
		return MethodAI
	}
	return m
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("url is empty")
	}
	switch c.method() {
	case MethodAI:
		if err := llm.ValidateProviders(c.Providers); err != nil {
			return err
		}
		p, err := llm.ResolveProvider(c.Providers, c.modelOrDefault())
		if err != nil {
			return err
		}
		if strings.TrimSpace(p.APIKey(c.APIKey, c.getenv())) == "" {
			return ErrAPIKeyRequired
		}
	case MethodHeatmap:
		if c.Peaks < 0 {
			return errors.New("peaks must not be negative (0 = default)")
		}
		if c.MinDuration < 0 {
			return errors.New("min duration must not be negative (0 = default)")
		}
	default:
		return fmt.Errorf("unknown analysis method %q (valid: ai, heatmap)", c.AnalysisMethod)
	}
	return nil
}

func (c Config) modelOrDefault() string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	return llm.DefaultModel
}

// NewExtractor returns the segment extractor for the configured method.
func NewExtractor(c Config) (ports.SegmentExtractor, error) {
	switch c.method() {
	case MethodHeatmap:
		return heatmap.New(heatmap.Options{
			BaseURL:     c.HeatmapURL,
			Peaks:       c.Peaks,
			MinDuration: c.MinDuration,
			HTTPClient:  c.HTTPClient,
			Logger:      c.Logger,
		}), nil
	case MethodAI:
		return llm.New(llm.Options{
			APIKey:     c.APIKey,
			Model:      c.modelOrDefault(),
			Providers:  c.Providers,
			HTTPClient: c.HTTPClient,
			Logger:     c.Logger,
			Getenv:     c.getenv(),
		})
	default:
		return nil, fmt.Errorf("unknown analysis method %q", c.AnalysisMethod)
	}
}

// Run validates cfg, wires the adapters and runs the orchestrator.
func Run(ctx context.Context, cfg Config) (usecase.Result, error) {
	if err := cfg.Validate(); err != nil {
		return usecase.Result{}, err
	}
	tools := NewTools(cfg.Tools)
	ext, err := NewExtractor(cfg)
	if err != nil {
		return usecase.Result{}, err
	}

	uc := usecase.New(usecase.Deps{
		Source:    tools.Source,
		Extractor: ext,
		Clipper:   tools.FFmpeg,
		Slicer:    tools.Slicer,
		Burner:    tools.FFmpeg,
		Logger:    cfg.Logger,
	})
	return uc.Run(ctx, usecase.Input{
		URL:           cfg.URL,
		ResultsDir:    cfg.ResultsDir,
		SubtitleLang:  cfg.SubtitleLang,
		BurnSubtitles: cfg.BurnSubtitles,
		Watermark:     cfg.Watermark,
		FontSize:      cfg.FontSize,
		MarginV:       cfg.MarginV,
		Events:        cfg.Events,
	})
}

// ensure adapters implement ports
var _ ports.VideoSource = (*ytdlp.Adapter)(nil)
var _ ports.Clipper = (*ffmpeg.Adapter)(nil)
var _ ports.Burner = (*ffmpeg.Adapter)(nil)
var _ ports.SubtitleSlicer = (*subslice.Adapter)(nil)
var _ ports.SegmentExtractor = (*llm.Extractor)(nil)
var _ ports.SegmentExtractor = (*heatmap.Extractor)(nil)
