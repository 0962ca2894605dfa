// Package web exposes the stage runners and the background job registry over
// HTTP. Single-shot stages answer synchronously; full runs are started as
// jobs and observed by polling or over a websocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/jobs"
	"github.com/forPelevin/ytclipper/internal/pipeline"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/heatmap"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/llm"
	"github.com/forPelevin/ytclipper/internal/usecase"
)

const defaultStageTimeout = 300 * time.Second

var errOutsideResults = errors.New("path escapes the results directory")

// PipelineFunc runs one full automation. pipeline.Run in production.
type PipelineFunc func(ctx context.Context, cfg pipeline.Config) (usecase.Result, error)

type Options struct {
	ResultsDir string
	APIKey     string
	Model      string
	Providers  []llm.Provider
	HeatmapURL string
	// HeatmapDuration overrides the video length lookup used to clamp peaks.
	HeatmapDuration heatmap.DurationFunc

	Source  ports.VideoSource
	Clipper ports.Clipper
	Slicer  ports.SubtitleSlicer
	Burner  ports.Burner

	// Tools is handed to full-auto runs, which build their own adapters.
	Tools    pipeline.ToolOptions
	Pipeline PipelineFunc

	Jobs *jobs.Manager
	Bus  *events.Bus

	StageTimeout time.Duration
	HTTPClient   *http.Client
	Getenv       func(string) string
	Logger       *slog.Logger
}

type Server struct {
	root string
	opts Options
	log  *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Source == nil || opts.Clipper == nil || opts.Slicer == nil || opts.Burner == nil {
		return nil, errors.New("web: stage adapters are required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("web: job manager is required")
	}
	root, err := filepath.Abs(opts.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("web: results dir: %w", err)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.Run
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{root: root, opts: opts, log: opts.Logger}, nil
}

// Router builds the gin engine with every API route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})

	api := r.Group("/api")
	api.POST("/download", s.handleDownload)
	api.POST("/download-subtitle", s.handleDownloadSubtitle)
	api.POST("/clip", s.handleClip)
	api.POST("/extract-subtitle", s.handleExtractSubtitle)
	api.POST("/burn", s.handleBurn)
	api.POST("/auto-map", s.handleAutoMap)
	api.POST("/heatmap", s.handleHeatmap)
	api.GET("/files", s.handleFiles)
	api.POST("/full-auto", s.handleFullAuto)
	api.GET("/job-status/:id", s.handleJobStatus)
	api.GET("/jobs/:id/events", s.handleJobEvents)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) stageContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.StageTimeout)
}

// resolveInput maps a request file name to a file inside the results
// directory: the exact path first, then the first file with the same base
// name found by walking the tree.
func (s *Server) resolveInput(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("file name is empty")
	}
	p, err := s.within(name)
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(p); err == nil && !st.IsDir() {
		return p, nil
	}

	base := filepath.Base(filepath.FromSlash(name))
	var found string
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == base {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return found, nil
}

// resolveOutput places a relative output next to the input it derives from.
func (s *Server) resolveOutput(out, input string) (string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("output name is empty")
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(filepath.Dir(input), filepath.FromSlash(out))
	}
	return s.within(out)
}

// within returns the absolute form of p, relative names being taken from
// the results directory, and rejects anything outside it.
func (s *Server) within(p string) (string, error) {
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideResults
	}
	return p, nil
}

// relative renders p relative to the results directory with forward slashes.
func (s *Server) relative(p string) string {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
