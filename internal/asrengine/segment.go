// Package asrengine implements the ASR phase's audio segmentation,
// per-chunk transcription, and overlap deduplication (spec.md §4.6): fixed-
// threshold chunking with overlap, timestamp re-anchoring, and midpoint/
// Jaccard-similarity based merge of duplicate segments at chunk
// boundaries.
package asrengine

import (
	"context"
	"time"
)

// Segment is one transcribed span of speech, with timestamps relative to
// the start of the audio it was transcribed from.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcriber runs speech recognition over one audio chunk and returns
// Segments with timestamps relative to the start of that chunk (i.e. not
// yet re-anchored to the full recording).
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, sourceLang string) ([]Segment, error)
}

// Default chunking parameters, per spec.md §4.6.
const (
	DefaultChunkThreshold = 600 * time.Second
	DefaultChunkOverlap   = 10 * time.Second
)
