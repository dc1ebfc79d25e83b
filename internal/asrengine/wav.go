package asrengine

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/christian-lee/subtrans/internal/jobcore"
)

// PCM holds raw 16-bit linear PCM samples plus the format needed to slice
// and re-synthesize WAV chunks.
type PCM struct {
	SampleRate int
	Channels   int
	Data       []byte // little-endian s16 samples, interleaved
}

// bytesPerSecond returns how many bytes of Data make up one second of
// audio: sample rate times channels times 2 bytes per s16 sample.
func (p *PCM) bytesPerSecond() int {
	return p.SampleRate * p.Channels * 2 // 2 bytes per s16 sample
}

// ReadWAV loads a canonical little-endian PCM WAV file (the format
// audioextract.Extractor is configured to produce: mono, 16-bit, 16kHz).
func ReadWAV(path string) (*PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, jobcore.New("asrengine.ReadWAV", jobcore.Internal, err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, jobcore.New("asrengine.ReadWAV", jobcore.BadInput, fmt.Errorf("not a RIFF/WAVE file"))
	}

	var channels, sampleRate int
	var pcmStart, pcmLen int
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if chunkID == "fmt " && body+16 <= len(data) {
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		}
		if chunkID == "data" {
			pcmStart = body
			pcmLen = chunkSize
			break
		}
		offset = body + chunkSize + chunkSize%2
	}
	if pcmStart == 0 || sampleRate == 0 {
		return nil, jobcore.New("asrengine.ReadWAV", jobcore.BadInput, fmt.Errorf("missing fmt/data chunk"))
	}
	end := pcmStart + pcmLen
	if end > len(data) {
		end = len(data)
	}
	return &PCM{SampleRate: sampleRate, Channels: channels, Data: data[pcmStart:end]}, nil
}

// WriteWAV writes pcm back out as a minimal canonical WAV file.
func WriteWAV(path string, pcm *PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return jobcore.New("asrengine.WriteWAV", jobcore.Internal, err)
	}
	defer f.Close()

	dataLen := len(pcm.Data)
	byteRate := pcm.SampleRate * pcm.Channels * 2
	blockAlign := pcm.Channels * 2

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(pcm.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(pcm.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	if _, err := f.Write(header); err != nil {
		return jobcore.New("asrengine.WriteWAV", jobcore.Internal, err)
	}
	if _, err := f.Write(pcm.Data); err != nil {
		return jobcore.New("asrengine.WriteWAV", jobcore.Internal, err)
	}
	return nil
}
