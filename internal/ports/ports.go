package ports

import (
	"context"

	"github.com/forPelevin/ytclipper/internal/types"
)

// Stage runners return the tool output so callers can surface it as a
// StageResult. Downloads are named after the video id; callers locate them
// with usecase.FindVideo and usecase.FindSubtitle.

type VideoSource interface {
	ResolveVideo(ctx context.Context, url string) (types.VideoInfo, error)
	DownloadVideo(ctx context.Context, url, dir string) (string, error)
	DownloadSubtitle(ctx context.Context, url, dir, lang string, auto bool) (string, error)
}

type Clipper interface {
	CutClip(ctx context.Context, in, start, end, out string) (string, error)
}

type SubtitleSlicer interface {
	SliceSubtitle(ctx context.Context, in, start, end, out string) error
}

type Burner interface {
	Burn(ctx context.Context, req types.BurnRequest) (string, error)
}

// ExtractRequest carries what either extractor may need; each reads only
// its own fields.
type ExtractRequest struct {
	URL          string
	VideoID      string
	SubtitlePath string
}

type SegmentExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]types.Segment, error)
}
