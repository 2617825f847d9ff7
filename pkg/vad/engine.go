// Package vad implements the VAD Gate (component C): a per-chunk
// binary speech/silence decision over the 16kHz VAD view of each
// main-path chunk.
package vad

import "errors"

// ErrWrongSampleRate is returned by an Engine given audio at a rate
// other than the one it was built for.
var ErrWrongSampleRate = errors.New("vad: unsupported sample rate for this engine")

// Result is the outcome of one VAD decision.
type Result struct {
	IsSpeech   bool
	Confidence float32
}

// Engine processes a 20ms VAD chunk and returns a speech/silence
// decision. Implementations are not required to be safe for
// concurrent use; each pkg/session Session owns one Engine and calls
// it from PushFrame, outside the segmenter lock.
type Engine interface {
	ProcessChunk(pcm []byte, sampleRate uint32) (Result, error)
	Reset() error
	Close() error
}

// Gate adapts an Engine to the fixed-aggressiveness, per-chunk
// contract in spec 4.C: an engine error or panic-free failure is
// treated as silence for that chunk and logged at debug level, never
// propagated to the segmenter.
type Gate struct {
	engine Engine
	log    interface {
		Debug(msg string, args ...interface{})
	}
}

// NewGate wraps engine. log may be nil.
func NewGate(engine Engine, log interface {
	Debug(msg string, args ...interface{})
}) *Gate {
	return &Gate{engine: engine, log: log}
}

// IsSpeech returns the boolean decision for one VADChunk (640 bytes,
// 16kHz). A detector failure is reported as false (silence).
func (g *Gate) IsSpeech(vadChunk []byte) bool {
	res, err := g.engine.ProcessChunk(vadChunk, 16000)
	if err != nil {
		if g.log != nil {
			g.log.Debug("vad: engine error, treating chunk as silence", "err", err)
		}
		return false
	}
	return res.IsSpeech
}

// Reset clears engine state, e.g. between sessions.
func (g *Gate) Reset() error { return g.engine.Reset() }

// Close releases engine resources.
func (g *Gate) Close() error { return g.engine.Close() }
