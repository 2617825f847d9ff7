// Package ingest implements the audio ingest + segmentation pipeline:
// frame normalization, fixed-size chunking, and the segment/turn data
// model shared by the vad, segment, transcribe, turn, and control
// packages.
package ingest

import "time"

// ChunkSamples is the number of mono samples in one 20ms chunk at the
// canonical 24kHz main-path rate.
const ChunkSamples = 480

// ChunkBytes is the wire size of one Chunk: 480 signed-16 LE samples.
const ChunkBytes = ChunkSamples * 2

// VADChunkSamples is the number of mono samples in the parallel 16kHz
// view of the same 20ms window, used only for speech detection.
const VADChunkSamples = 320

// VADChunkBytes is the wire size of one VADChunk.
const VADChunkBytes = VADChunkSamples * 2

// MainSampleRate is the fixed target rate of the main audio path.
const MainSampleRate = 24000

// VADSampleRate is the fixed target rate of the VAD-only path.
const VADSampleRate = 16000

// ChunkDurationMs is the fixed duration every chunk represents.
const ChunkDurationMs = 20

// Chunk is one 20ms quantum of signed-16 LE mono PCM at 24kHz. Exactly
// ChunkBytes bytes; never padded, never truncated.
type Chunk [ChunkBytes]byte

// VADChunk is the parallel 16kHz mono view of the same time interval,
// used only for voice-activity detection.
type VADChunk [VADChunkBytes]byte

// Logger is the dependency-injected structured logger every component
// in this module accepts. Constructors that take a Logger substitute
// NoOpLogger when given nil.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Used in tests and as a safe default.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// SampleFormat enumerates the sample encodings the Frame Normalizer
// accepts on its input side.
type SampleFormat int

const (
	FormatS16 SampleFormat = iota
	FormatS32
	FormatF32
	FormatF64
)

// InputFrame is one decoded inbound media frame before normalization.
// Format selects which one of the sample slices below is read. When
// Channels > 1 that slice is interleaved in frame-major (sample,
// channel) order, and the normalizer averages each frame's channels.
type InputFrame struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
	// Int16 holds interleaved samples when Format == FormatS16.
	Int16 []int16
	// Int32 holds interleaved samples when Format == FormatS32.
	Int32 []int32
	// Float32 holds interleaved samples when Format == FormatF32.
	Float32 []float32
	// Float64 holds interleaved samples when Format == FormatF64.
	Float64 []float64
}

// TurnDetectionPolicy selects which side drives turn boundaries.
type TurnDetectionPolicy int

const (
	// PolicyLocalVAD: no server turn detection, local VAD segmenter
	// commits drive turns.
	PolicyLocalVAD TurnDetectionPolicy = iota
	// PolicyServerVAD: the provider's own VAD drives turns via
	// speech_started/speech_stopped events.
	PolicyServerVAD
)

func (p TurnDetectionPolicy) String() string {
	if p == PolicyServerVAD {
		return "server_vad"
	}
	return "none"
}

// Config holds the tunables for one ingest session. Defaults mirror
// the values named throughout the spec.
type Config struct {
	// PreRollMs is the window of audio retained before the first
	// speech-positive chunk. Clamped to a minimum of 200ms (10
	// chunks) internally; recommended default 300ms.
	PreRollMs int
	// HangoverMs is the silence tail appended after speech before a
	// segment closes. Clamped to [300, 800].
	HangoverMs int
	// MinCommitMs is the minimum buffered duration required before a
	// commit is issued.
	MinCommitMs int
	// FinalTimeout bounds how long the turn coordinator waits for a
	// provider final before synthesizing one from the partial buffer.
	FinalTimeout time.Duration
	// GainDB is the optional digital gain applied by the normalizer.
	GainDB float64
	// VADThreshold is the RMS threshold used by the default energy
	// VAD engine, in [0, 1].
	VADThreshold float64
	// TurnDetection selects the turn coordination mode.
	TurnDetection TurnDetectionPolicy
	// CaptureDir, if non-empty, enables per-segment WAV dumps under
	// this directory. Developer-mode only.
	CaptureDir string
}

// DefaultConfig returns the spec's named defaults.
func DefaultConfig() Config {
	return Config{
		PreRollMs:     300,
		HangoverMs:    500,
		MinCommitMs:   100,
		FinalTimeout:  2 * time.Second,
		GainDB:        0,
		VADThreshold:  0.02,
		TurnDetection: PolicyLocalVAD,
	}
}

// PreRollChunks returns ceil(PreRollMs/20) clamped to a minimum of 10.
func (c Config) PreRollChunks() int {
	k := (c.PreRollMs + ChunkDurationMs - 1) / ChunkDurationMs
	if k < 10 {
		k = 10
	}
	return k
}

// ClampedHangover clamps HangoverMs to [300, 800] as a duration.
func (c Config) ClampedHangover() time.Duration {
	ms := c.HangoverMs
	if ms < 300 {
		ms = 300
	}
	if ms > 800 {
		ms = 800
	}
	return time.Duration(ms) * time.Millisecond
}
