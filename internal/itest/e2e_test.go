//go:build integration

package itest

import (
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestE2E_StageCommands drives clip, slice and burn on a generated video.
// No network access is needed.
func TestE2E_StageCommands(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not on PATH")
	}
	repoRoot := mustRepoRoot(t)

	tmp := t.TempDir()
	in := filepath.Join(tmp, "abcdefghijk.mp4")
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "color=c=black:s=640x360:d=30",
		"-f", "lavfi",
		"-i", "sine=frequency=440:duration=30",
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		in,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}

	vtt := filepath.Join(tmp, "abcdefghijk.id.vtt")
	body := "WEBVTT\n\n" +
		"00:00:05.000 --> 00:00:08.000\nhalo semua\n\n" +
		"00:00:12.000 --> 00:00:14.000\nini bagian penting\n"
	if err := os.WriteFile(vtt, []byte(body), 0o644); err != nil {
		t.Fatalf("write vtt: %v", err)
	}

	clip := filepath.Join(tmp, "clip1.mp4")
	srt := filepath.Join(tmp, "clip1.srt")
	final := filepath.Join(tmp, "clip1_final.mp4")
	env := map[string]string{"FFMPEG_PATH": "ffmpeg"}

	burn := []string{"burn", clip, "none", final}
	if hasFilter(t, "drawtext") {
		burn = append(burn, "--watermark", "@itest")
	}
	steps := [][]string{
		{"clip", in, "00:00:04", "00:00:16", clip},
		{"slice", vtt, "00:00:04", "00:00:16", srt},
		burn,
	}
	for _, args := range steps {
		res := runCLI(t, repoRoot, args, env)
		if res.exitCode != 0 {
			t.Fatalf("%s failed (exit %d):\n%s", args[0], res.exitCode, res.output)
		}
	}

	b, err := os.ReadFile(srt)
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	if !strings.Contains(string(b), "00:00:01,000 --> 00:00:04,000") {
		t.Fatalf("srt not shifted to clip start:\n%s", b)
	}

	for _, p := range []string{clip, final} {
		sec, err := probeDurationSeconds(p)
		if err != nil {
			t.Fatalf("probe %s: %v", p, err)
		}
		if math.Abs(sec-12) > 1 {
			t.Fatalf("%s duration = %.2fs, want ~12s", filepath.Base(p), sec)
		}
	}
}

func hasFilter(t *testing.T, name string) bool {
	t.Helper()
	b, err := exec.Command("ffmpeg", "-hide_banner", "-filters").CombinedOutput()
	if err != nil {
		t.Fatalf("ffmpeg -filters: %v\n%s", err, b)
	}
	return strings.Contains(string(b), " "+name+" ")
}
