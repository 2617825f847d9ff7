// Package session wires the Frame Normalizer, Chunk Accumulator, VAD
// Gate, Segmenter, Transcription Client, Turn Coordinator, and Control
// Channel into one per-track pipeline. It generalizes the teacher's
// ManagedStream (one lock, one context, idempotent Close) from a
// conversational-agent stream to an ingest-only one.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/audio"
	"github.com/lokutor-ai/voxpipe/pkg/control"
	"github.com/lokutor-ai/voxpipe/pkg/ingest"
	"github.com/lokutor-ai/voxpipe/pkg/observe"
	"github.com/lokutor-ai/voxpipe/pkg/segment"
	"github.com/lokutor-ai/voxpipe/pkg/transcribe"
	"github.com/lokutor-ai/voxpipe/pkg/turn"
	"github.com/lokutor-ai/voxpipe/pkg/vad"
)

// Session owns one inbound track's full pipeline for the lifetime of
// one call/session id.
type Session struct {
	ID      string
	cfg     ingest.Config
	log     ingest.Logger
	metrics *observe.Metrics

	norm    *ingest.Normalizer
	mainAcc *ingest.Accumulator
	vadAcc  *ingest.Accumulator
	gate    *vad.Gate
	seg     *segment.Segmenter
	client  *transcribe.Client
	coord   *turn.Coordinator
	ctrl    control.Channel
	mic     *control.MicGate

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	lastAudio time.Time
	statsStop chan struct{}
	statsDone chan struct{}
}

// New builds a Session. Connect must be called before pushing frames.
// A nil metrics falls back to observe.NoOpMetrics(), same as a nil
// Logger falls back to ingest.NoOpLogger.
func New(id string, cfg ingest.Config, tcfg transcribe.Config, ctrl control.Channel, metrics *observe.Metrics, log ingest.Logger) *Session {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	if metrics == nil {
		metrics = observe.NoOpMetrics()
	}

	s := &Session{
		ID:      id,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		ctrl:    ctrl,
		mic:     control.NewMicGate(),
	}

	s.coord = turn.New(cfg.TurnDetection, &channelEmitter{ctrl: ctrl}, cfg.FinalTimeout, log)
	s.coord.OnTurnOpened = func(int) {
		s.metrics.TurnsOpened.Add(context.Background(), 1)
	}
	s.coord.OnTurnFinalized = func(_ int, timedOut bool) {
		s.metrics.TurnsFinalized.Add(context.Background(), 1)
		if timedOut {
			s.metrics.FinalTimeouts.Add(context.Background(), 1)
		}
	}

	cb := transcribe.Callbacks{
		OnPartial: s.coord.OnPartial,
		OnFinal:   s.coord.OnFinal,
		OnError: func(code, msg string) {
			if ctrl != nil {
				ctrl.Send(control.STTError(msg))
			}
		},
	}
	if cfg.TurnDetection == ingest.PolicyServerVAD {
		cb.OnSpeechStarted = s.coord.OnSpeechStarted
		cb.OnSpeechStopped = s.coord.OnSpeechStopped
	}
	s.client = transcribe.New(tcfg, cb, log)

	var sink segment.Sink = s.client
	if cfg.CaptureDir != "" {
		sink = audio.NewSegmentCapture(s.client, cfg.CaptureDir, log)
	}
	sink = &meteringSink{Sink: sink, metrics: metrics}

	s.seg = segment.New(cfg, sink, log)
	s.seg.OnSegmentOpen = func(int) {
		s.metrics.SegmentsOpened.Add(context.Background(), 1)
	}
	s.seg.OnCommit = func(int) {
		s.metrics.CommitsIssued.Add(context.Background(), 1)
		s.metrics.ClearsIssued.Add(context.Background(), 1)
		if cfg.TurnDetection == ingest.PolicyLocalVAD {
			s.coord.OnSegmentCommit()
		}
	}

	s.norm = ingest.NewNormalizer(cfg.GainDB, log)
	s.mainAcc = ingest.NewAccumulator(ingest.ChunkSamples)
	s.vadAcc = ingest.NewAccumulator(ingest.VADChunkSamples)
	s.gate = vad.NewGate(vad.NewEnergyEngine(cfg.VADThreshold), log)

	return s
}

// meteringSink wraps a segment.Sink to count every chunk actually
// handed to the provider (or the WAV-capture sink in front of it),
// the one per-chunk event the Segmenter itself has no hook for.
type meteringSink struct {
	segment.Sink
	metrics *observe.Metrics
}

func (m *meteringSink) Append(chunk []byte) error {
	err := m.Sink.Append(chunk)
	if err == nil {
		m.metrics.ChunksAppended.Add(context.Background(), 1)
	}
	return err
}

// Connect opens the transcription session and starts the 10s
// stats-monitor task.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	s.statsStop = make(chan struct{})
	s.statsDone = make(chan struct{})
	go s.statsMonitor()
	return nil
}

// PushFrame runs one inbound media frame through the normalizer,
// accumulator, VAD gate, and segmenter. Chunks read while the mic
// gate is disabled are dropped before the VAD gate, per spec 4.G.
func (s *Session) PushFrame(frame ingest.InputFrame) error {
	mainSamples, err := s.norm.ToMainRate(frame)
	if err != nil {
		return err
	}
	vadSamples, err := s.norm.ToVADRate(frame)
	if err != nil {
		return err
	}
	if mainSamples == nil || vadSamples == nil {
		// Soft failure already logged by the normalizer.
		return nil
	}

	mainChunks := s.mainAcc.Push(mainSamples)
	vadChunks := s.vadAcc.Push(vadSamples)

	n := len(mainChunks)
	if len(vadChunks) < n {
		n = len(vadChunks)
	}
	for i := 0; i < n; i++ {
		if !s.mic.Enabled() {
			continue
		}
		s.touchStats()
		chunkBytes := ingest.Int16ToBytes(mainChunks[i])
		vadBytes := ingest.Int16ToBytes(vadChunks[i])
		isSpeech := s.gate.IsSpeech(vadBytes)
		if err := s.seg.ProcessChunk(chunkBytes, isSpeech); err != nil {
			s.log.Warn("session: segmenter chunk failed", "session_id", s.ID, "err", err)
		}
	}
	return nil
}

// HandleControlMessage applies an inbound client->server control
// message (mic enable/disable/toggle).
func (s *Session) HandleControlMessage(raw []byte) error {
	return s.mic.HandleMessage(raw)
}

func (s *Session) touchStats() {
	s.mu.Lock()
	s.lastAudio = time.Now()
	s.mu.Unlock()
}

// statsMonitor emits a warning every 10s if no audio has been
// forwarded in that window, per spec 5 item (vi).
func (s *Session) statsMonitor() {
	defer close(s.statsDone)
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.statsStop:
			return
		case <-t.C:
			s.mu.Lock()
			last := s.lastAudio
			s.mu.Unlock()
			if last.IsZero() || time.Since(last) >= 10*time.Second {
				s.log.Warn("session: no audio forwarded recently", "session_id", s.ID)
			}
		}
	}
}

// Close tears the session down: cancels the segmenter hangover task,
// the turn coordinator's timeout task, the stats monitor, and closes
// the transcription socket. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.seg.Close()
		s.coord.Close()
		if s.statsStop != nil {
			close(s.statsStop)
			<-s.statsDone
		}
		s.gate.Close()
		s.client.Close()
	})
	return nil
}

// channelEmitter adapts control.Channel to turn.Emitter.
type channelEmitter struct {
	ctrl control.Channel
}

func (e *channelEmitter) SpeechStarted(turnID int) {
	if e.ctrl != nil {
		e.ctrl.Send(control.SpeechStarted(turnID))
	}
}

func (e *channelEmitter) SpeechStopped(turnID int) {
	if e.ctrl != nil {
		e.ctrl.Send(control.SpeechStopped(turnID))
	}
}

func (e *channelEmitter) Partial(turnID int, delta, text string) {
	if e.ctrl != nil {
		e.ctrl.Send(control.Partial(turnID, delta, text))
	}
}

func (e *channelEmitter) Final(turnID int, text string) {
	if e.ctrl != nil {
		e.ctrl.Send(control.Final(turnID, text))
	}
}
