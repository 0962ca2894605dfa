package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/jobs"
	"github.com/forPelevin/ytclipper/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for single stages and background runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (default from config)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = a.cfg.Listen
	}
	if a.log.Enabled(cmd.Context(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	bus := events.NewBus()
	manager := jobs.NewManager(jobs.Options{
		MaxConcurrent: a.cfg.MaxJobs,
		TTL:           a.cfg.JobTTL,
		Bus:           bus,
		Logger:        a.log,
	})
	defer manager.Close()

	tools := a.tools()
	srv, err := web.New(web.Options{
		ResultsDir: a.cfg.ResultsDir,
		APIKey:     a.cfg.APIKey,
		Model:      a.cfg.Model,
		Providers:  a.cfg.Providers,
		HeatmapURL: a.cfg.HeatmapURL,
		Source:     tools.Source,
		Clipper:    tools.FFmpeg,
		Slicer:     tools.Slicer,
		Burner:     tools.FFmpeg,
		Tools:      a.toolOptions(),
		Jobs:       manager,
		Bus:        bus,
		Getenv:     a.getenv,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go manager.RunJanitor(ctx, 0)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", listen, "results_dir", a.cfg.ResultsDir)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
