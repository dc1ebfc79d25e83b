// Package audioextract is the narrow contract to ffmpeg-based audio
// extraction, an external collaborator per spec.md: given a source media
// path, produce a mono 16kHz 16-bit PCM WAV suitable for the ASR phase.
package audioextract

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/christian-lee/subtrans/internal/jobcore"
)

// Extractor produces ASR-ready audio from a source media file.
type Extractor interface {
	Extract(ctx context.Context, sourcePath, destPath string) error
}

// FFmpegExtractor shells out to the ffmpeg binary, the same way the
// teacher's bilibili stream library drives ffmpeg for live capture — here
// invoked directly via os/exec since the teacher's own ffmpeg wiring lived
// entirely inside the (dropped) bilibili_stream_lib dependency.
type FFmpegExtractor struct {
	BinaryPath string // defaults to "ffmpeg" on PATH
}

// NewFFmpegExtractor creates an Extractor using binaryPath, or "ffmpeg" if empty.
func NewFFmpegExtractor(binaryPath string) *FFmpegExtractor {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &FFmpegExtractor{BinaryPath: binaryPath}
}

func (f *FFmpegExtractor) Extract(ctx context.Context, sourcePath, destPath string) error {
	cmd := exec.CommandContext(ctx, f.BinaryPath,
		"-y", "-i", sourcePath,
		"-vn", "-ac", "1", "-ar", "16000", "-sample_fmt", "s16",
		destPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return jobcore.New("audioextract.Extract", jobcore.Internal, fmt.Errorf("ffmpeg: %w: %s", err, out))
	}
	return nil
}
