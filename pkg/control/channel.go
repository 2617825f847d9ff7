// Package control implements the Control Channel (component G): an
// in-band JSON message surface to the client, distinct from the
// media tracks, carrying mic enable/disable control and the partial/
// final transcript and VAD boundary notifications.
package control

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// Envelope is the server->client JSON message shape from spec 4.G/6.
type Envelope struct {
	Type    string `json:"type"`
	TurnID  *int   `json:"turn_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Message string `json:"message,omitempty"`
}

func turnID(id int) *int { return &id }

// Channel is the send-side capability the turn coordinator and
// segmenter event glue drive. Sends are always best-effort.
type Channel interface {
	Send(env Envelope)
}

// WSChannel sends envelopes over a websocket connection. A not-open
// channel logs a warning and discards, never blocking or erroring the
// caller.
type WSChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
	ctx  context.Context
	log  ingest.Logger
	open bool
}

// NewWSChannel wraps an already-established connection. ctx bounds
// every send for the lifetime of the channel.
func NewWSChannel(ctx context.Context, conn *websocket.Conn, log ingest.Logger) *WSChannel {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	return &WSChannel{conn: conn, ctx: ctx, log: log, open: true}
}

func (w *WSChannel) Send(env Envelope) {
	w.mu.Lock()
	conn, ctx, open := w.conn, w.ctx, w.open
	w.mu.Unlock()

	if !open || conn == nil {
		w.log.Warn("control: channel not open, discarding message", "type", env.Type)
		return
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		w.log.Warn("control: send failed, discarding", "type", env.Type, "err", err)
		w.mu.Lock()
		w.open = false
		w.mu.Unlock()
	}
}

// Close marks the channel not-open; subsequent sends are discarded.
func (w *WSChannel) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
}

// RecordingChannel is an in-memory Channel for tests: every Send is
// appended to Sent in order.
type RecordingChannel struct {
	mu   sync.Mutex
	Sent []Envelope
}

func (r *RecordingChannel) Send(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, env)
}

func (r *RecordingChannel) All() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.Sent))
	copy(out, r.Sent)
	return out
}

// MicGate tracks the client-controlled mic enable flag read per
// chunk by the ingest path; chunks read while disabled are dropped
// before the VAD gate. Starts enabled.
type MicGate struct {
	enabled atomic.Bool
}

// NewMicGate returns a gate that starts enabled.
func NewMicGate() *MicGate {
	g := &MicGate{}
	g.enabled.Store(true)
	return g
}

// Enabled reports the current flag value.
func (g *MicGate) Enabled() bool { return g.enabled.Load() }

// HandleMessage parses one inbound client->server JSON message and
// applies it if it names a mic control type. Unrecognized types are
// ignored (the control channel only carries mic control inbound per
// spec 4.G).
func (g *MicGate) HandleMessage(raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case "mic.enabled", "mic.on":
		g.enabled.Store(true)
	case "mic.disabled", "mic.off":
		g.enabled.Store(false)
	case "mic.toggle":
		for {
			old := g.enabled.Load()
			if g.enabled.CompareAndSwap(old, !old) {
				break
			}
		}
	}
	return nil
}

// Convenience constructors for the envelope types named in spec
// 4.G/6.

func SpeechStarted(turn int) Envelope { return Envelope{Type: "vad.speech_started", TurnID: turnID(turn)} }
func SpeechStopped(turn int) Envelope { return Envelope{Type: "vad.speech_stopped", TurnID: turnID(turn)} }
func Partial(turn int, delta, text string) Envelope {
	return Envelope{Type: "stt.partial", TurnID: turnID(turn), Delta: delta, Text: text}
}
func Final(turn int, text string) Envelope {
	return Envelope{Type: "stt.final", TurnID: turnID(turn), Text: text}
}
func STTError(message string) Envelope { return Envelope{Type: "stt.error", Message: message} }
func LLMResponse(turn int, text string) Envelope {
	return Envelope{Type: "llm.response", TurnID: turnID(turn), Text: text}
}
func LLMError(message string) Envelope { return Envelope{Type: "llm.error", Message: message} }
