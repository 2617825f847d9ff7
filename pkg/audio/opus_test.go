// Package audio_test exercises OpusDecoder as an external (black-box)
// test package: it needs pkg/session to prove Decode's output reaches
// a real Session.PushFrame call, and pkg/session itself imports
// pkg/audio (for the WAV capture sink), so this test lives outside
// package audio to avoid that import cycle.
package audio_test

import (
	"testing"

	"layeh.com/gopus"

	"github.com/lokutor-ai/voxpipe/pkg/audio"
	"github.com/lokutor-ai/voxpipe/pkg/control"
	"github.com/lokutor-ai/voxpipe/pkg/ingest"
	"github.com/lokutor-ai/voxpipe/pkg/session"
	"github.com/lokutor-ai/voxpipe/pkg/transcribe"
)

// TestOpusDecoderFeedsSessionPushFrame proves the call path a real
// inbound Opus track handler would drive: an encoded Opus packet
// decodes to interleaved PCM, is wrapped into an ingest.InputFrame at
// the decoder's own 48kHz/stereo constants, and flows into
// Session.PushFrame exactly as the Frame Normalizer expects from the
// media track.
func TestOpusDecoderFeedsSessionPushFrame(t *testing.T) {
	enc, err := gopus.NewEncoder(audio.OpusSampleRate, audio.OpusChannels, gopus.Audio)
	if err != nil {
		t.Fatalf("failed to build opus encoder: %v", err)
	}

	pcm := make([]int16, audio.OpusFrameSize*audio.OpusChannels)
	for i := range pcm {
		if i%4 < 2 {
			pcm[i] = 12000
		} else {
			pcm[i] = -12000
		}
	}
	packet, err := enc.Encode(pcm, audio.OpusFrameSize, len(pcm)*2)
	if err != nil {
		t.Fatalf("failed to encode test packet: %v", err)
	}

	dec, err := audio.NewOpusDecoder()
	if err != nil {
		t.Fatalf("failed to build opus decoder: %v", err)
	}
	pcmBytes, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("failed to decode opus packet: %v", err)
	}
	wantBytes := audio.OpusFrameSize * audio.OpusChannels * 2
	if len(pcmBytes) != wantBytes {
		t.Fatalf("expected %d decoded PCM bytes, got %d", wantBytes, len(pcmBytes))
	}

	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(pcmBytes[i*2]) | int16(pcmBytes[i*2+1])<<8
	}

	frame := ingest.InputFrame{
		SampleRate: audio.OpusSampleRate,
		Channels:   audio.OpusChannels,
		Format:     ingest.FormatS16,
		Int16:      samples,
	}

	ctrl := &control.RecordingChannel{}
	sess := session.New("opus-decode-test", ingest.DefaultConfig(), transcribe.Config{}, ctrl, nil, nil)
	defer sess.Close()

	if err := sess.PushFrame(frame); err != nil {
		t.Fatalf("PushFrame rejected the decoded Opus frame: %v", err)
	}
}
