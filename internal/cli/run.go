package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/pipeline"
	"github.com/forPelevin/ytclipper/internal/usecase"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <youtube-url>",
		Short: "Run the full pipeline: download, analyze, clip and burn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0])
		},
	}

	cmd.Flags().String("method", pipeline.MethodAI, "Analysis method: ai or heatmap")
	cmd.Flags().String("model", "", "LLM model (default from config)")
	cmd.Flags().String("api-key", "", "LLM API key (default from env/config)")
	cmd.Flags().String("lang", usecase.DefaultLang, "Preferred subtitle language")
	cmd.Flags().Bool("burn-subtitle", true, "Burn subtitles into the clips")
	cmd.Flags().String("watermark", "", "Watermark text drawn on every clip")
	cmd.Flags().Int("peaks", 0, "Heatmap: number of peak segments (default 10)")
	cmd.Flags().Duration("min-duration", 0, "Heatmap: minimum segment length (default 15s)")

	// Subtitle styling
	cmd.Flags().Int("font-size", 0, "Subtitle font size (default 24)")
	cmd.Flags().Int("margin-v", 0, "Subtitle bottom margin (default 30)")
	_ = cmd.Flags().MarkHidden("font-size")
	_ = cmd.Flags().MarkHidden("margin-v")
	return cmd
}

func (a *app) run(cmd *cobra.Command, url string) error {
	f := cmd.Flags()
	method, _ := f.GetString("method")
	model, _ := f.GetString("model")
	apiKey, _ := f.GetString("api-key")
	lang, _ := f.GetString("lang")
	burn, _ := f.GetBool("burn-subtitle")
	watermark, _ := f.GetString("watermark")
	peaks, _ := f.GetInt("peaks")
	minDur, _ := f.GetDuration("min-duration")
	fontSize, _ := f.GetInt("font-size")
	marginV, _ := f.GetInt("margin-v")

	if strings.EqualFold(method, "replayed") {
		method = pipeline.MethodHeatmap
	}
	if model == "" {
		model = a.cfg.Model
	}
	if apiKey == "" {
		apiKey = a.cfg.APIKey
	}

	ch := make(chan events.Event, 64)
	cfg := pipeline.Config{
		URL:            url,
		ResultsDir:     a.cfg.ResultsDir,
		AnalysisMethod: method,
		APIKey:         apiKey,
		Model:          model,
		Providers:      a.cfg.Providers,
		HeatmapURL:     a.cfg.HeatmapURL,
		Peaks:          peaks,
		MinDuration:    minDur,
		SubtitleLang:   lang,
		BurnSubtitles:  burn,
		Watermark:      watermark,
		FontSize:       fontSize,
		MarginV:        marginV,
		Tools:          a.toolOptions(),
		Logger:         a.log,
		Events:         ch,
		Getenv:         a.getenv,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	out := cmd.OutOrStdout()
	p := newProgress(out)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		p.consume(ch)
	}()

	start := time.Now()
	res, err := pipeline.Run(cmd.Context(), cfg)
	close(ch)
	<-rendered
	if err != nil {
		return err
	}

	printf(out, "\n%s\n", p.ok.Render("Done in "+time.Since(start).Round(time.Second).String()))
	printf(out, "Clips:    %d\n", len(res.Manifest.Clips))
	printf(out, "Manifest: %s\n", res.ManifestPath)
	if len(res.Failed) > 0 {
		printf(out, "%s\n", p.warn.Render(fmt.Sprintf("Failed segments: %v", res.Failed)))
	}
	return nil
}
