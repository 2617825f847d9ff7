package ingest

// Accumulator is the Chunk Accumulator (component B). It maintains a
// monotone signed-16 sample queue and detaches fixed-size chunks from
// the front as enough samples accrue, decoupling variable input frame
// sizes from the fixed 20ms output cadence.
type Accumulator struct {
	pending []int16
	size    int // samples per emitted chunk
}

// NewAccumulator builds an Accumulator emitting chunks of chunkSamples
// samples. Use ChunkSamples for the main path, VADChunkSamples for the
// VAD-only path.
func NewAccumulator(chunkSamples int) *Accumulator {
	return &Accumulator{size: chunkSamples}
}

// Push appends samples and returns every complete chunk that can now
// be detached, in order. Fewer than size samples always remain
// pending for the next call; no chunk is ever emitted short or
// padded.
func (a *Accumulator) Push(samples []int16) [][]int16 {
	a.pending = append(a.pending, samples...)

	var chunks [][]int16
	for len(a.pending) >= a.size {
		chunk := make([]int16, a.size)
		copy(chunk, a.pending[:a.size])
		chunks = append(chunks, chunk)
		a.pending = a.pending[a.size:]
	}
	// Compact to avoid retaining the backing array of a long-lived
	// slice after repeated reslicing.
	if len(a.pending) > 0 {
		compacted := make([]int16, len(a.pending))
		copy(compacted, a.pending)
		a.pending = compacted
	} else {
		a.pending = nil
	}
	return chunks
}

// Reset drops any pending tail, discarding partial-chunk samples that
// have not yet reached the emission threshold.
func (a *Accumulator) Reset() {
	a.pending = nil
}

// Pending returns the number of samples currently buffered, for
// tests and diagnostics.
func (a *Accumulator) Pending() int {
	return len(a.pending)
}

// Int16ToBytes converts a slice of signed-16 samples to little-endian
// bytes, the wire format every Chunk/VADChunk is built from.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16 converts little-endian bytes back to signed-16
// samples.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
