package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// Sink mirrors segment.Sink to avoid an import cycle (pkg/segment
// does not need to know about WAV capture).
type Sink interface {
	Append(chunk []byte) error
	Commit() error
	Clear() error
	BufferedMs() int
}

// SegmentCapture wraps a Sink and, when enabled, writes one 24kHz
// mono signed-16 WAV file per segment under dir, containing exactly
// the bytes appended to the provider for that segment. Guarded by a
// single config flag (an empty dir); absence must not affect the
// audio path, so every method simply forwards when disabled.
type SegmentCapture struct {
	inner Sink
	dir   string
	log   ingest.Logger

	mu      sync.Mutex
	segment int
	buf     []byte
}

// NewSegmentCapture wraps inner. If dir is empty, capture is a
// no-op passthrough.
func NewSegmentCapture(inner Sink, dir string, log ingest.Logger) *SegmentCapture {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	return &SegmentCapture{inner: inner, dir: dir, log: log}
}

func (c *SegmentCapture) Append(chunk []byte) error {
	err := c.inner.Append(chunk)
	if err == nil && c.dir != "" {
		c.mu.Lock()
		c.buf = append(c.buf, chunk...)
		c.mu.Unlock()
	}
	return err
}

func (c *SegmentCapture) Commit() error {
	err := c.inner.Commit()
	if err == nil && c.dir != "" {
		c.flush()
	}
	return err
}

func (c *SegmentCapture) Clear() error {
	return c.inner.Clear()
}

func (c *SegmentCapture) BufferedMs() int { return c.inner.BufferedMs() }

func (c *SegmentCapture) flush() {
	c.mu.Lock()
	buf := c.buf
	c.buf = nil
	c.segment++
	seg := c.segment
	c.mu.Unlock()

	if len(buf) == 0 {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.log.Warn("audio: capture mkdir failed", "err", err)
		return
	}
	name := filepath.Join(c.dir, fmt.Sprintf("segment-%04d-%d.wav", seg, time.Now().Unix()))
	wav := NewWavBuffer(buf, ingest.MainSampleRate)
	if err := os.WriteFile(name, wav, 0o644); err != nil {
		c.log.Warn("audio: capture write failed", "path", name, "err", err)
	}
}
