package ingest

import "math"

// Normalizer is the Frame Normalizer (component A): it turns one
// decoded inbound media frame of arbitrary rate/channel-count/format
// into a mono signed-16 stream at a fixed target rate, and
// independently at the VAD target rate.
//
// One Normalizer instance is stateless across calls except for the
// once-per-session warning counters, following the design note that
// replaces a process-global warning-once flag with a per-session one.
type Normalizer struct {
	log Logger

	gainDB float64

	warnedRate bool
}

// NewNormalizer builds a Normalizer. gainDB is the optional digital
// gain applied before resampling; 0 disables it.
func NewNormalizer(gainDB float64, log Logger) *Normalizer {
	if log == nil {
		log = NoOpLogger{}
	}
	return &Normalizer{log: log, gainDB: gainDB}
}

// ToMainRate converts frame to mono signed-16 PCM at MainSampleRate
// (24kHz). Returns nil, nil on a soft failure (unsupported rate):
// the caller should drop the frame and continue.
func (n *Normalizer) ToMainRate(frame InputFrame) ([]int16, error) {
	return n.convert(frame, MainSampleRate)
}

// ToVADRate converts frame to mono signed-16 PCM at VADSampleRate
// (16kHz), for the VAD-only view of the same time interval.
func (n *Normalizer) ToVADRate(frame InputFrame) ([]int16, error) {
	return n.convert(frame, VADSampleRate)
}

func (n *Normalizer) convert(frame InputFrame, targetRate int) ([]int16, error) {
	switch frame.SampleRate {
	case 16000, 24000, 48000:
	default:
		if !n.warnedRate {
			n.log.Warn("ingest: unsupported input sample rate, dropping frame", "rate", frame.SampleRate)
			n.warnedRate = true
		}
		return nil, nil
	}

	mono := n.toMonoFloat(frame)

	if n.gainDB != 0 {
		g := math.Pow(10, n.gainDB/20)
		for i := range mono {
			mono[i] = clip(mono[i]*g, -1, 1)
		}
	}

	if frame.SampleRate != targetRate {
		mono = resample(mono, frame.SampleRate, targetRate)
	}

	return quantize(mono), nil
}

// toMonoFloat implements shape normalization + format conversion
// (spec 4.A steps 1-2): deduce channel layout, downmix by averaging,
// and convert each supported sample format into float64 in [-1, 1].
func (n *Normalizer) toMonoFloat(frame InputFrame) []float64 {
	switch frame.Format {
	case FormatS16:
		return downmixInt(frame.Int16, frame.Channels, func(s int16) float64 {
			return float64(s) / 32768.0
		})
	case FormatS32:
		return downmixInt(frame.Int32, frame.Channels, func(s int32) float64 {
			return clip(float64(s)/2147483648.0, -1, 1)
		})
	case FormatF32:
		return downmixFloat(frame.Float32, frame.Channels, func(f float32) float64 {
			return clip(float64(f), -1, 1)
		})
	case FormatF64:
		return downmixFloat(frame.Float64, frame.Channels, func(f float64) float64 {
			return clip(f, -1, 1)
		})
	default:
		// SampleFormat's four constructors above are exhaustive; this
		// only triggers for a raw int value outside that set, which
		// carries no known scale, so peak-normalize defensively rather
		// than clip against an assumed [-1,1] range.
		peak := peakAbs(frame.Float64)
		scale := 1.0
		if peak > 1 {
			scale = 1 / peak
		}
		return downmixFloat(frame.Float64, frame.Channels, func(f float64) float64 {
			return clip(f*scale, -1, 1)
		})
	}
}

func downmixInt[T int16 | int32](samples []T, channels int, conv func(T) float64) []float64 {
	if channels <= 1 {
		out := make([]float64, len(samples))
		for i, s := range samples {
			out[i] = conv(s)
		}
		return out
	}
	n := len(samples) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += conv(samples[i*channels+c])
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func downmixFloat[T float32 | float64](samples []T, channels int, conv func(T) float64) []float64 {
	if channels <= 1 {
		out := make([]float64, len(samples))
		for i, s := range samples {
			out[i] = conv(s)
		}
		return out
	}
	n := len(samples) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += conv(samples[i*channels+c])
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func peakAbs(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		a := math.Abs(s)
		if a > peak {
			peak = a
		}
	}
	return peak
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// quantize is the final step (spec 4.A step 5): clip and scale by
// 32767 into signed-16.
func quantize(mono []float64) []int16 {
	out := make([]int16, len(mono))
	for i, s := range mono {
		s = clip(s, -1, 1)
		out[i] = int16(math.Round(s * 32767))
	}
	return out
}
