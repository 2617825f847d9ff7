// Package segment implements the Segmenter (component D): the
// IDLE/SPEECH/HANGOVER state machine that drives clear/append/commit
// on a transcription sink, with a pre-roll ring preserving the
// acoustic attack before the detector confirms speech.
package segment

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// Sink is the capability the Segmenter drives. A single interface
// replaces the four separate on_clear/on_append/on_commit/
// on_get_buffered_ms callbacks; the transcription client implements
// it directly.
type Sink interface {
	Append(chunk []byte) error
	Commit() error
	Clear() error
	BufferedMs() int
}

type state int

const (
	stateIdle state = iota
	stateSpeech
	stateHangover
)

// Segmenter is safe for concurrent use; all transitions are
// serialized under a single lock, matching the single-segmenter-lock
// model in spec 4.D/5.
type Segmenter struct {
	mu sync.Mutex

	sink Sink
	log  ingest.Logger

	preRollCap int
	preRoll    [][]byte

	hangover    time.Duration
	minCommitMs int

	state     state
	segmentID int

	hangoverCancel context.CancelFunc

	// OnCommit fires after a successful commit+clear, with the id of
	// the segment that just closed. Used by the local-VAD turn
	// coordinator to treat a commit as an implicit speech_stopped.
	OnCommit func(segmentID int)
	// OnSegmentOpen fires at the IDLE->SPEECH transition, before any
	// pre-roll chunk is appended.
	OnSegmentOpen func(segmentID int)
}

// New builds a Segmenter over sink using cfg's pre-roll/hangover/
// min-commit settings.
func New(cfg ingest.Config, sink Sink, log ingest.Logger) *Segmenter {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	return &Segmenter{
		sink:        sink,
		log:         log,
		preRollCap:  cfg.PreRollChunks(),
		hangover:    cfg.ClampedHangover(),
		minCommitMs: cfg.MinCommitMs,
		state:       stateIdle,
	}
}

// ProcessChunk feeds one (chunk, is_speech) pair through the state
// machine, per the transition table in spec 4.D. chunk must be the
// exact bytes that would be sent to the provider (960 bytes on the
// main path).
func (s *Segmenter) ProcessChunk(chunk []byte, isSpeech bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
		if !isSpeech {
			s.pushPreRoll(chunk)
			return nil
		}
		return s.openSegment(chunk)

	case stateSpeech:
		if err := s.sink.Append(chunk); err != nil {
			return err
		}
		if !isSpeech {
			s.state = stateHangover
			s.startHangoverTimer()
		}
		return nil

	case stateHangover:
		if err := s.sink.Append(chunk); err != nil {
			return err
		}
		if isSpeech {
			s.cancelHangoverLocked()
			s.state = stateSpeech
		}
		return nil
	}
	return nil
}

// openSegment implements IDLE->SPEECH: open the segment, drain the
// pre-roll ring in order, then append the current chunk. clear is
// deliberately not called here.
func (s *Segmenter) openSegment(chunk []byte) error {
	s.segmentID++
	id := s.segmentID
	if s.OnSegmentOpen != nil {
		s.OnSegmentOpen(id)
	}
	for _, c := range s.preRoll {
		if err := s.sink.Append(c); err != nil {
			return err
		}
	}
	s.preRoll = s.preRoll[:0]
	if err := s.sink.Append(chunk); err != nil {
		return err
	}
	s.state = stateSpeech
	return nil
}

func (s *Segmenter) pushPreRoll(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.preRoll = append(s.preRoll, cp)
	if len(s.preRoll) > s.preRollCap {
		s.preRoll = s.preRoll[len(s.preRoll)-s.preRollCap:]
	}
}

// startHangoverTimer launches the independent hangover task: it
// sleeps for the clamped hangover duration, then re-acquires the
// segmenter lock to check whether speech resumed in the meantime.
func (s *Segmenter) startHangoverTimer() {
	ctx, cancel := context.WithCancel(context.Background())
	s.hangoverCancel = cancel
	id := s.segmentID
	go func() {
		t := time.NewTimer(s.hangover)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.onHangoverExpired(id)
	}()
}

// cancelHangoverLocked cancels the outstanding hangover task. Caller
// must hold s.mu.
func (s *Segmenter) cancelHangoverLocked() {
	if s.hangoverCancel != nil {
		s.hangoverCancel()
		s.hangoverCancel = nil
	}
}

func (s *Segmenter) onHangoverExpired(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateHangover || s.segmentID != id {
		// Speech resumed (or a newer segment started) before this
		// task reacquired the lock; nothing to do.
		return
	}
	s.hangoverCancel = nil

	if s.sink.BufferedMs() >= s.minCommitMs {
		if err := s.sink.Commit(); err != nil {
			s.log.Warn("segment: commit failed", "segment_id", id, "err", err)
		} else if err := s.sink.Clear(); err != nil {
			s.log.Warn("segment: clear failed", "segment_id", id, "err", err)
		} else if s.OnCommit != nil {
			s.OnCommit(id)
		}
	} else {
		s.log.Debug("segment: skipping commit, below min_commit_ms", "segment_id", id)
	}
	s.state = stateIdle
}

// Close cancels any outstanding hangover task. The pre-roll ring is
// intentionally left intact.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelHangoverLocked()
}

// State returns a human-readable state name, for tests/diagnostics.
func (s *Segmenter) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateSpeech:
		return "speech"
	case stateHangover:
		return "hangover"
	default:
		return "idle"
	}
}

// SegmentID returns the id of the most recently opened segment (0 if
// none yet).
func (s *Segmenter) SegmentID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentID
}
