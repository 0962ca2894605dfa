package subslice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const vtt = `WEBVTT

00:00:01.000 --> 00:00:03.000
before the window

00:00:10.000 --> 00:00:12.500
inside the window
`

func TestSliceSubtitle(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "video.id.vtt")
	if err := os.WriteFile(in, []byte(vtt), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "clips", "clip1.srt")

	if err := New(nil).SliceSubtitle(context.Background(), in, "00:00:09", "00:00:20", out); err != nil {
		t.Fatalf("slice: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, "inside the window") || strings.Contains(got, "before the window") {
		t.Fatalf("unexpected slice:\n%s", got)
	}
	if !strings.Contains(got, "00:00:01,000 --> 00:00:03,500") {
		t.Fatalf("expected cue shifted to clip start:\n%s", got)
	}
}

func TestSliceSubtitle_Errors(t *testing.T) {
	a := New(nil)
	dir := t.TempDir()
	if err := a.SliceSubtitle(context.Background(), filepath.Join(dir, "missing.vtt"), "0", "10", filepath.Join(dir, "o.srt")); err == nil {
		t.Fatalf("expected missing input error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.SliceSubtitle(ctx, "x", "0", "10", "y"); err == nil {
		t.Fatalf("expected context error")
	}
}
