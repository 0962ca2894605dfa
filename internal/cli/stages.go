package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forPelevin/ytclipper/internal/domain/youtube"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/heatmap"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/llm"
	"github.com/forPelevin/ytclipper/internal/runstore"
	"github.com/forPelevin/ytclipper/internal/types"
	"github.com/forPelevin/ytclipper/internal/usecase"
)

// videoDir returns dir when set, otherwise the per-video directory under
// the results dir that full runs use. The video id names the produced files.
func (a *app) videoDir(ctx context.Context, src ports.VideoSource, url, dir string) (string, string, error) {
	id, err := youtube.ParseVideoID(url)
	if err != nil {
		info, rerr := src.ResolveVideo(ctx, url)
		if rerr != nil {
			return "", "", rerr
		}
		id = info.ID
	}
	if dir == "" {
		dir = filepath.Join(a.cfg.ResultsDir, id)
	}
	if err := runstore.Mkdir(dir); err != nil {
		return "", "", err
	}
	return dir, id, nil
}

func newDownloadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <youtube-url>",
		Short: "Download the video (best MP4 up to 1080p)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			src := a.tools().Source
			dir, id, err := a.videoDir(cmd.Context(), src, args[0], dir)
			if err != nil {
				return err
			}
			out, err := src.DownloadVideo(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			a.log.Debug("yt-dlp finished", "output", out)
			path := usecase.FindVideo(dir, id)
			if path == "" {
				return usecase.ErrNoVideo
			}
			printf(cmd.OutOrStdout(), "%s\n", path)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Output directory (default <results>/<video-id>)")
	return cmd
}

func newSubtitleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtitle <youtube-url>",
		Short: "Download a WebVTT subtitle track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			lang, _ := cmd.Flags().GetString("lang")
			auto, _ := cmd.Flags().GetBool("auto")
			src := a.tools().Source
			dir, id, err := a.videoDir(cmd.Context(), src, args[0], dir)
			if err != nil {
				return err
			}
			out, err := src.DownloadSubtitle(cmd.Context(), args[0], dir, lang, auto)
			if err != nil {
				return err
			}
			a.log.Debug("yt-dlp finished", "output", out)
			path := usecase.FindSubtitle(dir, id, lang)
			if path == "" {
				return usecase.ErrNoSubtitle
			}
			printf(cmd.OutOrStdout(), "%s\n", path)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Output directory (default <results>/<video-id>)")
	cmd.Flags().String("lang", usecase.DefaultLang, "Subtitle language")
	cmd.Flags().Bool("auto", true, "Accept auto-generated captions")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <subtitle-file>",
		Short: "Ask the LLM for viral segments in a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			apiKey, _ := cmd.Flags().GetString("api-key")
			out, _ := cmd.Flags().GetString("out")
			if model == "" {
				model = a.cfg.Model
			}
			if apiKey == "" {
				apiKey = a.cfg.APIKey
			}
			ext, err := llm.New(llm.Options{
				APIKey:    apiKey,
				Model:     model,
				Providers: a.cfg.Providers,
				Logger:    a.log,
				Getenv:    a.getenv,
			})
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a.log.Info("analyzing transcript", "file", args[0], "provider", ext.Provider().Name, "model", ext.Model())

			segs, raw, err := ext.AnalyzeFile(cmd.Context(), args[0])
			if err != nil {
				_ = writeJSON(cmd, types.Analysis{Error: err.Error(), RawResponse: raw})
				return err
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(args[0]), usecase.ChaptersFile)
			}
			if err := runstore.WriteJSON(out, segs); err != nil {
				return err
			}
			return writeJSON(cmd, types.Chapters(segs))
		},
	}
	cmd.Flags().String("model", "", "LLM model (default from config)")
	cmd.Flags().String("api-key", "", "LLM API key (default from env/config)")
	cmd.Flags().String("out", "", "Where to save the segments (default chapters.json next to the input)")
	return cmd
}

func newHeatmapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heatmap <youtube-url>",
		Short: "Pick segments from the Most Replayed heatmap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peaks, _ := cmd.Flags().GetInt("peaks")
			minDur, _ := cmd.Flags().GetDuration("min-duration")
			if peaks < 0 || minDur < 0 {
				return fmt.Errorf("config: peaks and min-duration must not be negative")
			}
			ext := heatmap.New(heatmap.Options{
				BaseURL:     a.cfg.HeatmapURL,
				Peaks:       peaks,
				MinDuration: minDur,
				Logger:      a.log,
			})
			segs, err := ext.Extract(cmd.Context(), ports.ExtractRequest{URL: args[0]})
			if err != nil {
				_ = writeJSON(cmd, types.Analysis{Error: err.Error()})
				return err
			}
			return writeJSON(cmd, types.Chapters(segs))
		},
	}
	cmd.Flags().Int("peaks", heatmap.DefaultPeaks, "Number of peak segments")
	cmd.Flags().Duration("min-duration", heatmap.DefaultMinDuration, "Minimum segment length")
	return cmd
}

func newClipCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clip <video> <start> <end> <output>",
		Short: "Cut [start, end] out of a video",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkRange(args[1], args[2]); err != nil {
				return err
			}
			if _, err := a.tools().FFmpeg.CutClip(cmd.Context(), args[0], args[1], args[2], args[3]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", args[3])
			return nil
		},
	}
}

func newSliceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "slice <subtitle> <start> <end> <output.srt>",
		Short: "Extract the cues of [start, end] into a zero-based SRT",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkRange(args[1], args[2]); err != nil {
				return err
			}
			if err := a.tools().Slicer.SliceSubtitle(cmd.Context(), args[0], args[1], args[2], args[3]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", args[3])
			return nil
		},
	}
}

func newBurnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "burn <video> <subtitle|none> <output>",
		Short: "Burn subtitles and/or a watermark into a video",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			watermark, _ := cmd.Flags().GetString("watermark")
			fontSize, _ := cmd.Flags().GetInt("font-size")
			marginV, _ := cmd.Flags().GetInt("margin-v")
			sub := args[1]
			if strings.EqualFold(sub, "none") {
				sub = ""
			}
			res, err := a.tools().FFmpeg.Burn(cmd.Context(), types.BurnRequest{
				Video:     args[0],
				Subtitle:  sub,
				Output:    args[2],
				Watermark: watermark,
				FontSize:  fontSize,
				MarginV:   marginV,
			})
			if err != nil {
				return err
			}
			a.log.Debug("burn finished", "result", res)
			printf(cmd.OutOrStdout(), "%s\n", args[2])
			return nil
		},
	}
	cmd.Flags().String("watermark", "", "Watermark text")
	cmd.Flags().Int("font-size", 0, "Subtitle font size (default 24)")
	cmd.Flags().Int("margin-v", 0, "Subtitle bottom margin (default 30)")
	return cmd
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
		return fmt.Errorf("end %s must be after start %s", end, start)
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
