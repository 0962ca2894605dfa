// Package subslice cuts subtitle files in-process.
package subslice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forPelevin/ytclipper/internal/domain/subtitles"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports"
)

type Adapter struct {
	log *slog.Logger
}

var _ ports.SubtitleSlicer = (*Adapter)(nil)

func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Adapter{log: log}
}

func (a *Adapter) SliceSubtitle(ctx context.Context, in, start, end, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("subtitle file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := subtitles.SliceFile(in, start, end, out); err != nil {
		return fmt.Errorf("slice subtitle: %w", err)
	}
	if st, err := os.Stat(out); err == nil {
		a.log.Debug("sliced subtitle", "output", out, "start", start, "end", end, "size", format.Bytes(st.Size()))
	}
	return nil
}
