package asrengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteWAVThenReadWAVRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	data := make([]byte, 16000*2*3) // 3 seconds mono 16-bit @ 16kHz
	for i := range data {
		data[i] = byte(i % 251)
	}
	pcm := &PCM{SampleRate: 16000, Channels: 1, Data: data}

	require.NoError(t, WriteWAV(path, pcm))

	got, err := ReadWAV(path)
	require.NoError(t, err)
	require.Equal(t, pcm.SampleRate, got.SampleRate)
	require.Equal(t, pcm.Channels, got.Channels)
	require.Equal(t, pcm.Data, got.Data)
}

func TestReadWAVRejectsNonRIFFFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o644))

	_, err := ReadWAV(path)
	require.Error(t, err)
}

func TestReadWAVRejectsMissingDataChunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nofmt.wav")

	header := make([]byte, 12)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	require.NoError(t, os.WriteFile(path, header, 0o644))

	_, err := ReadWAV(path)
	require.Error(t, err)
}
