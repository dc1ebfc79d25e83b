package subtitle

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,500
Hello there.

2
00:00:04,200 --> 00:00:06,000
General Kenobi.

`

func TestDecodeSRT(t *testing.T) {
	track, err := DecodeSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)
	require.Len(t, track, 2)

	assert.Equal(t, 1, track[0].Index)
	assert.Equal(t, time.Second, track[0].Start)
	assert.Equal(t, 3*time.Second+500*time.Millisecond, track[0].End)
	assert.Equal(t, "Hello there.", track[0].Text)

	assert.Equal(t, "General Kenobi.", track[1].Text)
}

func TestEncodeSRTRoundTrip(t *testing.T) {
	track, err := DecodeSRT(strings.NewReader(sampleSRT))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeSRT(&buf, track))

	reparsed, err := DecodeSRT(&buf)
	require.NoError(t, err)
	require.Len(t, reparsed, 2)
	assert.Equal(t, track[0].Start, reparsed[0].Start)
	assert.Equal(t, track[1].Text, reparsed[1].Text)
}

func TestDecodeSRTSkipsMalformedBlock(t *testing.T) {
	input := `1
not-a-timestamp
broken

2
00:00:04,200 --> 00:00:06,000
Still works.
`
	track, err := DecodeSRT(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, track, 1)
	assert.Equal(t, "Still works.", track[0].Text)
}
