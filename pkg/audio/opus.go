package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Inbound media tracks in this pipeline's domain are Opus at the
// WebRTC-standard 48kHz stereo, 20ms framing, matching the constants
// used for Discord voice elsewhere in the examples.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 2
	OpusFrameSizeMs = 20
	// OpusFrameSize is samples per channel per 20ms frame.
	OpusFrameSize = OpusSampleRate * OpusFrameSizeMs / 1000 // 960
)

// OpusDecoder wraps a gopus decoder for one inbound track. Each track
// needs its own decoder instance to keep decode state correct across
// consecutive packets.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder builds a decoder for one inbound Opus track.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into interleaved signed-16 LE PCM
// bytes at 48kHz stereo, ready for the Frame Normalizer's downmix.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
