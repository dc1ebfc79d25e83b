package asrengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeChunksDropsDuplicateAtBoundary(t *testing.T) {
	ranges := []ChunkRange{
		{Start: 0, End: 600 * time.Second},
		{Start: 590 * time.Second, End: 1190 * time.Second},
	}
	chunk0 := []Segment{
		{Start: 580 * time.Second, End: 585 * time.Second, Text: "and then she left the room"},
		{Start: 585 * time.Second, End: 595 * time.Second, Text: "never to return again"},
	}
	chunk1 := Reanchor([]Segment{
		{Start: 0, End: 5 * time.Second, Text: "never to return again"},
		{Start: 5 * time.Second, End: 10 * time.Second, Text: "the town grew quiet"},
	}, ranges[1].Start)

	merged := MergeChunks([][]Segment{chunk0, chunk1}, ranges, 10*time.Second)

	texts := make([]string, len(merged))
	for i, s := range merged {
		texts[i] = s.Text
	}
	assert.Equal(t, []string{"and then she left the room", "never to return again", "the town grew quiet"}, texts)
}

func TestMergeChunksSingleChunkPassesThrough(t *testing.T) {
	ranges := []ChunkRange{{Start: 0, End: 90 * time.Second}}
	chunk0 := []Segment{{Start: 0, End: 1 * time.Second, Text: "hello"}}
	merged := MergeChunks([][]Segment{chunk0}, ranges, 10*time.Second)
	require.Len(t, merged, 1)
	assert.Equal(t, "hello", merged[0].Text)
}

func TestMergeChunksEmptyInput(t *testing.T) {
	assert.Nil(t, MergeChunks(nil, nil, 10*time.Second))
}

func TestDedupeAdjacentKeepsDissimilarOverlappingSegments(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 5 * time.Second, Text: "hello there"},
		{Start: 4 * time.Second, End: 8 * time.Second, Text: "completely different words"},
	}
	out := dedupeAdjacent(segs)
	assert.Len(t, out, 2)
}

func TestJaccardSimilarityIdenticalText(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("the quick fox", "the quick fox"))
}

func TestJaccardSimilarityCaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("Hello World", "hello world"))
}

func TestJaccardSimilarityNoOverlap(t *testing.T) {
	assert.Equal(t, 0.0, jaccardSimilarity("apple banana", "car truck"))
}

func TestJaccardSimilarityBothEmpty(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("", ""))
}
