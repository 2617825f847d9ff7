package vad

import "math"

// EnergyEngine is a fixed-aggressiveness, dependency-free default
// Engine: a single RMS threshold against the 16kHz PCM view, with no
// hysteresis of its own (the segmenter owns pre-roll/hangover state;
// an engine-level attack/release filter would duplicate it).
//
// No Go binding for a fixed-mode WebRTC-style detector exists anywhere
// in the retrieved examples (the only occurrences are Python's
// webrtcvad), so this generalizes the teacher's own from-scratch
// energy detector instead of reaching for an unavailable dependency.
type EnergyEngine struct {
	threshold float64
}

// NewEnergyEngine builds an EnergyEngine with the given RMS threshold
// in [0, 1]. Mode 2 on webrtcvad's 0-3 aggressiveness scale roughly
// corresponds to a mid threshold; 0.02 is the package default.
func NewEnergyEngine(threshold float64) *EnergyEngine {
	return &EnergyEngine{threshold: threshold}
}

// SetThreshold updates the RMS threshold.
func (e *EnergyEngine) SetThreshold(threshold float64) { e.threshold = threshold }

func (e *EnergyEngine) ProcessChunk(pcm []byte, sampleRate uint32) (Result, error) {
	if sampleRate != 16000 {
		return Result{}, ErrWrongSampleRate
	}
	rms := calculateRMS(pcm)
	return Result{IsSpeech: rms > e.threshold, Confidence: float32(rms)}, nil
}

func (e *EnergyEngine) Reset() error { return nil }
func (e *EnergyEngine) Close() error { return nil }

func calculateRMS(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(chunk[i]) | int16(chunk[i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
