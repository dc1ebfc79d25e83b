package asrengine

import (
	"context"
	"time"
)

// Transcribe runs the full ASR phase over a WAV file already extracted
// from the source media: plan overlapping chunks, transcribe each with t,
// re-anchor timestamps to the full recording, and merge away duplicate
// segments at chunk boundaries.
func Transcribe(ctx context.Context, t Transcriber, pcm *PCM, sourceLang string, threshold, overlap time.Duration) ([]Segment, error) {
	total := TotalDuration(pcm)
	ranges := PlanChunks(total, threshold, overlap)

	chunks := make([][]Segment, len(ranges))
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slice := r.Slice(pcm)
		segs, err := t.Transcribe(ctx, slice.Data, slice.SampleRate, sourceLang)
		if err != nil {
			return nil, err
		}
		chunks[i] = Reanchor(segs, r.Start)
	}

	return MergeChunks(chunks, ranges, overlap), nil
}
