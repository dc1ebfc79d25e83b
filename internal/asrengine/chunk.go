package asrengine

import "time"

// ChunkRange is one chunk's span within the full recording.
type ChunkRange struct {
	Start time.Duration
	End   time.Duration
}

// PlanChunks splits a recording of length total into overlapping chunks no
// longer than threshold, each overlapping the next by overlap, per
// spec.md §4.6. A recording shorter than threshold produces one chunk.
func PlanChunks(total, threshold, overlap time.Duration) []ChunkRange {
	if total <= 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	if overlap < 0 || overlap >= threshold {
		overlap = DefaultChunkOverlap
	}
	if total <= threshold {
		return []ChunkRange{{Start: 0, End: total}}
	}

	stride := threshold - overlap
	var chunks []ChunkRange
	for start := time.Duration(0); start < total; start += stride {
		end := start + threshold
		if end > total {
			end = total
		}
		chunks = append(chunks, ChunkRange{Start: start, End: end})
		if end == total {
			break
		}
	}
	return chunks
}

// Slice extracts the PCM bytes for [r.Start, r.End) from pcm.
func (r ChunkRange) Slice(pcm *PCM) *PCM {
	bps := pcm.bytesPerSecond()
	startByte := int(r.Start.Seconds() * float64(bps))
	endByte := int(r.End.Seconds() * float64(bps))
	if startByte < 0 {
		startByte = 0
	}
	if endByte > len(pcm.Data) {
		endByte = len(pcm.Data)
	}
	if startByte > endByte {
		startByte = endByte
	}
	return &PCM{SampleRate: pcm.SampleRate, Channels: pcm.Channels, Data: pcm.Data[startByte:endByte]}
}

// TotalDuration computes the duration represented by pcm's sample count.
func TotalDuration(pcm *PCM) time.Duration {
	bps := pcm.bytesPerSecond()
	if bps == 0 {
		return 0
	}
	seconds := float64(len(pcm.Data)) / float64(bps)
	return time.Duration(seconds * float64(time.Second))
}

// Reanchor shifts every segment's timestamps by offset, converting
// chunk-relative timestamps into full-recording timestamps.
func Reanchor(segments []Segment, offset time.Duration) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		out[i] = Segment{Start: s.Start + offset, End: s.End + offset, Text: s.Text}
	}
	return out
}
