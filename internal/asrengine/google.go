package asrengine

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/christian-lee/subtrans/internal/jobcore"
)

// GoogleTranscriber implements Transcriber against the Cloud Speech-to-Text
// synchronous Recognize API. Unlike the live-stream StreamingRecognize RPC,
// ASR chunks here are bounded (at most DefaultChunkThreshold long) and
// already extracted to disk, so a single blocking Recognize call per chunk
// is sufficient — no reconnect loop is needed.
type GoogleTranscriber struct {
	client *speech.Client
}

func NewGoogleTranscriber(client *speech.Client) *GoogleTranscriber {
	return &GoogleTranscriber{client: client}
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, sourceLang string) ([]Segment, error) {
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               sourceLang,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}

	resp, err := g.client.Recognize(ctx, req)
	if err != nil {
		return nil, jobcore.New("asrengine.GoogleTranscriber.Transcribe", jobcore.ProviderTransient, err)
	}

	var segments []Segment
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		seg, ok := segmentFromAlternative(alt)
		if !ok {
			continue
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func segmentFromAlternative(alt *speechpb.SpeechRecognitionAlternative) (Segment, bool) {
	if alt.Transcript == "" {
		return Segment{}, false
	}
	words := alt.Words
	if len(words) == 0 {
		return Segment{Text: alt.Transcript}, true
	}
	start := words[0].StartTime.AsDuration()
	end := words[len(words)-1].EndTime.AsDuration()
	return Segment{Start: start, End: end, Text: alt.Transcript}, true
}

// NewGoogleClient builds the underlying Speech client. Kept as a thin
// wrapper so callers pass a context-bound, already-authenticated client
// (via option.WithCredentialsFile or ambient ADC) without this package
// depending on the caller's auth strategy.
func NewGoogleClient(ctx context.Context, opts ...speech.ClientOption) (*speech.Client, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, jobcore.New("asrengine.NewGoogleClient", jobcore.Internal, fmt.Errorf("speech client: %w", err))
	}
	return client, nil
}
