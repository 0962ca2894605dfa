package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forPelevin/ytclipper/internal/domain/youtube"
	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/jobs"
	"github.com/forPelevin/ytclipper/internal/pipeline"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/heatmap"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/llm"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/toolexec"
	"github.com/forPelevin/ytclipper/internal/runstore"
	"github.com/forPelevin/ytclipper/internal/types"
	"github.com/forPelevin/ytclipper/internal/usecase"
)

type stageResponse struct {
	types.StageResult
	File string `json:"file,omitempty"`
}

type analysisResponse struct {
	types.Analysis
	File string `json:"file,omitempty"`
}

func badStage(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, fs.ErrNotExist) {
		status = http.StatusNotFound
	}
	c.JSON(status, stageResponse{StageResult: types.StageResult{Output: err.Error(), ReturnCode: -1}})
}

func badAnalysis(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, fs.ErrNotExist) {
		status = http.StatusNotFound
	}
	c.JSON(status, types.Analysis{Error: err.Error()})
}

func (s *Server) stageResult(c *gin.Context, out string, err error, file string) {
	resp := stageResponse{StageResult: toolexec.Result(out, err)}
	if err == nil && file != "" {
		resp.File = s.relative(file)
	}
	c.JSON(http.StatusOK, resp)
}

type downloadRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badStage(c, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badStage(c, errors.New("url is required"))
		return
	}
	ctx, cancel := s.stageContext(c)
	defer cancel()

	dir, id, err := s.videoDir(ctx, req.URL)
	if err != nil {
		s.stageResult(c, "", err, "")
		return
	}
	out, err := s.opts.Source.DownloadVideo(ctx, req.URL, dir)
	file := usecase.FindVideo(dir, id)
	if err == nil && file == "" {
		err = usecase.ErrNoVideo
	}
	s.stageResult(c, out, err, file)
}

// videoDir is the per-video working directory, the same one full runs use.
func (s *Server) videoDir(ctx context.Context, url string) (dir, id string, err error) {
	id, err = youtube.ParseVideoID(url)
	if err != nil {
		info, rerr := s.opts.Source.ResolveVideo(ctx, url)
		if rerr != nil {
			return "", "", rerr
		}
		id = info.ID
	}
	dir = filepath.Join(s.root, id)
	if err := runstore.Mkdir(dir); err != nil {
		return "", "", err
	}
	return dir, id, nil
}

type subtitleRequest struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
	Auto *bool  `json:"auto"`
}

func (s *Server) handleDownloadSubtitle(c *gin.Context) {
	var req subtitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badStage(c, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badStage(c, errors.New("url is required"))
		return
	}
	lang := strings.TrimSpace(req.Lang)
	if lang == "" {
		lang = usecase.DefaultLang
	}
	auto := req.Auto == nil || *req.Auto

	ctx, cancel := s.stageContext(c)
	defer cancel()
	dir, id, err := s.videoDir(ctx, req.URL)
	if err != nil {
		s.stageResult(c, "", err, "")
		return
	}
	out, err := s.opts.Source.DownloadSubtitle(ctx, req.URL, dir, lang, auto)
	file := usecase.FindSubtitle(dir, id, lang)
	if err == nil && file == "" {
		err = usecase.ErrNoSubtitle
	}
	s.stageResult(c, out, err, file)
}

type clipRequest struct {
	Video  string `json:"video"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Output string `json:"output"`
}

func (s *Server) handleClip(c *gin.Context) {
	var req clipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badStage(c, err)
		return
	}
	if err := checkRange(req.Start, req.End); err != nil {
		badStage(c, err)
		return
	}
	in, err := s.resolveInput(req.Video)
	if err != nil {
		badStage(c, err)
		return
	}
	out, err := s.resolveOutput(req.Output, in)
	if err != nil {
		badStage(c, err)
		return
	}

	ctx, cancel := s.stageContext(c)
	defer cancel()
	res, err := s.opts.Clipper.CutClip(ctx, in, req.Start, req.End, out)
	s.stageResult(c, res, err, out)
}

type sliceRequest struct {
	Subtitle string `json:"subtitle"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Output   string `json:"output"`
}

func (s *Server) handleExtractSubtitle(c *gin.Context) {
	var req sliceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badStage(c, err)
		return
	}
	if err := checkRange(req.Start, req.End); err != nil {
		badStage(c, err)
		return
	}
	in, err := s.resolveInput(req.Subtitle)
	if err != nil {
		badStage(c, err)
		return
	}
	out, err := s.resolveOutput(req.Output, in)
	if err != nil {
		badStage(c, err)
		return
	}

	ctx, cancel := s.stageContext(c)
	defer cancel()
	err = s.opts.Slicer.SliceSubtitle(ctx, in, req.Start, req.End, out)
	msg := ""
	if err == nil {
		msg = "Subtitle clip saved: " + s.relative(out)
	}
	s.stageResult(c, msg, err, out)
}

type burnRequest struct {
	Video     string `json:"video"`
	Subtitle  string `json:"subtitle"`
	Output    string `json:"output"`
	Watermark string `json:"watermark"`
	FontSize  int    `json:"font_size"`
	MarginV   int    `json:"margin_v"`
}

func (s *Server) handleBurn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badStage(c, err)
		return
	}
	sub := strings.TrimSpace(req.Subtitle)
	if sub == "" && strings.TrimSpace(req.Watermark) == "" {
		badStage(c, errors.New("subtitle or watermark is required"))
		return
	}
	video, err := s.resolveInput(req.Video)
	if err != nil {
		badStage(c, err)
		return
	}
	if sub != "" && !strings.EqualFold(sub, "none") {
		if sub, err = s.resolveInput(sub); err != nil {
			badStage(c, err)
			return
		}
	}
	out, err := s.resolveOutput(req.Output, video)
	if err != nil {
		badStage(c, err)
		return
	}

	ctx, cancel := s.stageContext(c)
	defer cancel()
	res, err := s.opts.Burner.Burn(ctx, types.BurnRequest{
		Video:     video,
		Subtitle:  sub,
		Output:    out,
		Watermark: req.Watermark,
		FontSize:  req.FontSize,
		MarginV:   req.MarginV,
	})
	s.stageResult(c, res, err, out)
}

func checkRange(start, end string) error {
	st, err := format.ParseTimestamp(start)
	if err != nil {
		return err
	}
	en, err := format.ParseTimestamp(end)
	if err != nil {
		return err
	}
	if en <= st {
		return errors.New("end must be after start")
	}
	return nil
}

type autoMapRequest struct {
	File   string `json:"file"`
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

func (s *Server) handleAutoMap(c *gin.Context) {
	var req autoMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badAnalysis(c, err)
		return
	}
	path, err := s.resolveInput(req.File)
	if err != nil {
		badAnalysis(c, err)
		return
	}
	ext, err := llm.New(llm.Options{
		APIKey:     firstNonEmpty(req.APIKey, s.opts.APIKey),
		Model:      firstNonEmpty(req.Model, s.opts.Model),
		Providers:  s.opts.Providers,
		HTTPClient: s.opts.HTTPClient,
		Logger:     s.log,
		Getenv:     s.opts.Getenv,
	})
	if err != nil {
		badAnalysis(c, err)
		return
	}

	ctx, cancel := s.stageContext(c)
	defer cancel()
	segs, raw, err := ext.AnalyzeFile(ctx, path)
	if err != nil {
		c.JSON(http.StatusOK, types.Analysis{Error: err.Error(), RawResponse: raw})
		return
	}
	cache := filepath.Join(filepath.Dir(path), usecase.ChaptersFile)
	if err := runstore.WriteJSON(cache, segs); err != nil {
		s.log.Warn("failed to save analysis", "file", cache, "err", err)
		cache = ""
	}
	resp := analysisResponse{Analysis: types.Chapters(segs)}
	if cache != "" {
		resp.File = s.relative(cache)
	}
	c.JSON(http.StatusOK, resp)
}

type heatmapRequest struct {
	URL         string  `json:"url"`
	Peaks       int     `json:"peaks"`
	MinDuration float64 `json:"min_duration"`
}

func (s *Server) handleHeatmap(c *gin.Context) {
	var req heatmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badAnalysis(c, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badAnalysis(c, errors.New("url is required"))
		return
	}
	if req.Peaks < 0 || req.MinDuration < 0 {
		badAnalysis(c, errors.New("peaks and min_duration must not be negative"))
		return
	}
	ext := heatmap.New(heatmap.Options{
		BaseURL:     s.opts.HeatmapURL,
		Peaks:       req.Peaks,
		MinDuration: time.Duration(req.MinDuration * float64(time.Second)),
		HTTPClient:  s.opts.HTTPClient,
		Logger:      s.log,
		Duration:    s.opts.HeatmapDuration,
	})

	ctx, cancel := s.stageContext(c)
	defer cancel()
	segs, err := ext.Extract(ctx, ports.ExtractRequest{URL: req.URL})
	if err != nil {
		c.JSON(http.StatusOK, types.Analysis{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, types.Chapters(segs))
}

type fileEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsDir     bool   `json:"is_dir"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human,omitempty"`
	Ext       string `json:"ext"`
}

func (s *Server) handleFiles(c *gin.Context) {
	dir, err := s.within(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "files": []fileEntry{}, "error": err.Error()})
		return
	}
	if dir == s.root {
		if err := runstore.Mkdir(dir); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "files": []fileEntry{}, "error": err.Error()})
			return
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "files": []fileEntry{}, "error": err.Error()})
		return
	}

	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fe := fileEntry{
			Name:  e.Name(),
			Path:  s.relative(filepath.Join(dir, e.Name())),
			IsDir: e.IsDir(),
		}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				fe.Size = info.Size()
				fe.SizeHuman = format.Bytes(info.Size())
			}
			fe.Ext = strings.ToLower(filepath.Ext(e.Name()))
		}
		files = append(files, fe)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	resp := gin.H{
		"success":      true,
		"current_path": s.relative(dir),
		"parent_path":  nil,
		"files":        files,
	}
	if dir != s.root {
		resp["parent_path"] = s.relative(filepath.Dir(dir))
	}
	c.JSON(http.StatusOK, resp)
}

type fullAutoRequest struct {
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	Watermark      string `json:"watermark"`
	BurnSubtitle   *bool  `json:"burn_subtitle"`
	AnalysisMethod string `json:"analysis_method"`
	Lang           string `json:"lang"`
}

func (s *Server) handleFullAuto(c *gin.Context) {
	var req fullAutoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	method := strings.ToLower(strings.TrimSpace(req.AnalysisMethod))
	if method == "replayed" {
		method = pipeline.MethodHeatmap
	}
	cfg := pipeline.Config{
		URL:            strings.TrimSpace(req.URL),
		ResultsDir:     s.root,
		AnalysisMethod: method,
		APIKey:         firstNonEmpty(req.APIKey, s.opts.APIKey),
		Model:          firstNonEmpty(req.Model, s.opts.Model),
		Providers:      s.opts.Providers,
		HeatmapURL:     s.opts.HeatmapURL,
		SubtitleLang:   strings.TrimSpace(req.Lang),
		BurnSubtitles:  req.BurnSubtitle == nil || *req.BurnSubtitle,
		Watermark:      req.Watermark,
		Tools:          s.opts.Tools,
		Logger:         s.log,
		Getenv:         s.opts.Getenv,
		HTTPClient:     s.opts.HTTPClient,
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	run := s.opts.Pipeline
	id := s.opts.Jobs.Start(func(ctx context.Context, ch chan<- events.Event) error {
		cfg.Events = ch
		_, err := run(ctx, cfg)
		return err
	})
	s.log.Info("full-auto job queued", "job_id", id, "url", cfg.URL, "method", cfg.AnalysisMethod)
	c.JSON(http.StatusOK, gin.H{"success": true, "job_id": id, "message": "Job started"})
}

type jobStatus struct {
	Success    bool        `json:"success"`
	Status     jobs.Status `json:"status"`
	Step       int         `json:"step"`
	TotalSteps int         `json:"total_steps"`
	Message    string      `json:"message"`
	Output     string      `json:"output"`
}

func statusOf(j jobs.Job) jobStatus {
	return jobStatus{
		Success:    true,
		Status:     j.Status,
		Step:       j.Step,
		TotalSteps: j.TotalSteps,
		Message:    j.Message,
		Output:     j.OutputText(),
	}
}

func (s *Server) handleJobStatus(c *gin.Context) {
	j, ok := s.opts.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, statusOf(j))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
