package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/ytclipper/internal/config"
	"github.com/forPelevin/ytclipper/internal/pipeline"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := newRootCmd(os.Getenv)
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	getenv func(string) string
	cfg    config.Config
	log    *slog.Logger
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}

	root := &cobra.Command{
		Use:           "ytclipper",
		Short:         "Cut short highlight clips out of YouTube videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newDownloadCmd(a),
		newSubtitleCmd(a),
		newAnalyzeCmd(a),
		newHeatmapCmd(a),
		newClipCmd(a),
		newSliceCmd(a),
		newBurnCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, a.getenv)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	a.cfg = cfg
	a.log = config.NewLogger(cmd.ErrOrStderr(), level, cfg.LogFormat)
	return nil
}

func (a *app) toolOptions() pipeline.ToolOptions {
	return pipeline.ToolOptions{
		FFmpegPath: a.cfg.FFmpegPath,
		YTDLPPath:  a.cfg.YTDLPPath,
		Cookies:    a.cfg.Cookies,
		Logger:     a.log,
	}
}

func (a *app) tools() pipeline.Tools {
	return pipeline.NewTools(a.toolOptions())
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
