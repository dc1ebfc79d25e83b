package asrengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunksShortRecordingIsSingleChunk(t *testing.T) {
	chunks := PlanChunks(90*time.Second, DefaultChunkThreshold, DefaultChunkOverlap)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkRange{Start: 0, End: 90 * time.Second}, chunks[0])
}

func TestPlanChunksLongRecordingOverlaps(t *testing.T) {
	total := 1300 * time.Second
	chunks := PlanChunks(total, 600*time.Second, 10*time.Second)
	require.Len(t, chunks, 3)

	assert.Equal(t, time.Duration(0), chunks[0].Start)
	assert.Equal(t, 600*time.Second, chunks[0].End)

	assert.Equal(t, 590*time.Second, chunks[1].Start)
	assert.Equal(t, 1190*time.Second, chunks[1].End)

	assert.Equal(t, 1180*time.Second, chunks[2].Start)
	assert.Equal(t, total, chunks[2].End)

	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].Start < chunks[i-1].End, "chunk %d must overlap chunk %d", i, i-1)
	}
}

func TestPlanChunksInvalidOverlapFallsBackToDefault(t *testing.T) {
	chunks := PlanChunks(1300*time.Second, 600*time.Second, 600*time.Second)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 600*time.Second-DefaultChunkOverlap, chunks[1].Start)
}

func TestChunkRangeSlice(t *testing.T) {
	pcm := &PCM{SampleRate: 100, Channels: 1, Data: make([]byte, 100*1*2*4)} // 4 seconds of audio
	r := ChunkRange{Start: 1 * time.Second, End: 3 * time.Second}
	sliced := r.Slice(pcm)
	assert.Equal(t, 100*1*2*2, len(sliced.Data))
}

func TestChunkRangeSliceClampsToBounds(t *testing.T) {
	pcm := &PCM{SampleRate: 100, Channels: 1, Data: make([]byte, 100*1*2*2)} // 2 seconds
	r := ChunkRange{Start: 1 * time.Second, End: 10 * time.Second}
	sliced := r.Slice(pcm)
	assert.Equal(t, 100*1*2*1, len(sliced.Data))
}

func TestTotalDuration(t *testing.T) {
	pcm := &PCM{SampleRate: 16000, Channels: 1, Data: make([]byte, 16000*2*5)}
	assert.Equal(t, 5*time.Second, TotalDuration(pcm))
}

func TestReanchorShiftsTimestamps(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: time.Second, Text: "a"},
		{Start: time.Second, End: 2 * time.Second, Text: "b"},
	}
	out := Reanchor(segs, 590*time.Second)
	assert.Equal(t, 590*time.Second, out[0].Start)
	assert.Equal(t, 591*time.Second, out[1].Start)
	assert.Equal(t, "a", out[0].Text)
}
