// Package signaling implements the HTTP surface of spec.md §6: the
// SDP offer/answer exchange and session registry that front the core
// ingest pipeline. The peer-connection stack itself is an external
// collaborator (spec.md §1's explicit non-goal); this package fixes
// only the PeerConnection interface the core consumes, following the
// same registry shape as MrWong99-glyphoxa's internal/app.SessionManager
// generalized from "one active session" to many concurrent calls, and
// the HTTP-endpoint layout of lucianHymer-richardtate/server's
// internal/webrtc.Manager + internal/api.Server (ID generation via
// google/uuid, one registry entry per call).
package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/voxpipe/pkg/control"
	"github.com/lokutor-ai/voxpipe/pkg/ingest"
	"github.com/lokutor-ai/voxpipe/pkg/observe"
	"github.com/lokutor-ai/voxpipe/pkg/session"
	"github.com/lokutor-ai/voxpipe/pkg/transcribe"
)

// ErrNotFound is returned by Hangup for an unknown session id.
var ErrNotFound = errors.New("signaling: session not found")

// PeerConnection is the external collaborator boundary spec.md §1
// carves out: the peer-connection stack negotiates media and a
// control data channel, and this package only ever calls Close on it.
type PeerConnection interface {
	Close() error
}

// Negotiator is the signaling endpoint's sole dependency on the
// peer-connection stack: given a remote SDP offer and the callbacks
// the ingest pipeline needs wired to inbound media/control traffic,
// it returns a local SDP answer, the opened PeerConnection, and the
// control.Channel the peer connection exposes for server->client
// sends. Production wiring supplies a pion/webrtc-backed
// implementation; this package depends only on the interface.
type Negotiator func(ctx context.Context, offerSDP string, onFrame func(ingest.InputFrame), onControl func([]byte)) (answerSDP string, pc PeerConnection, ctrl control.Channel, err error)

// Entry is one registered call.
type Entry struct {
	SessionID string
	CallID    string
	CreatedAt time.Time

	sess *session.Session
	pc   PeerConnection
}

// Manager is the session registry fronting the ingest pipeline,
// generalized from glyphoxa's single-active-session SessionManager to
// many concurrent calls, one per browser/mobile peer.
type Manager struct {
	negotiate Negotiator
	ingestCfg func() ingest.Config
	sttCfg    func() transcribe.Config
	metrics   *observe.Metrics
	log       ingest.Logger

	mu       sync.Mutex
	sessions map[string]*Entry
}

// New builds a Manager. ingestCfg/sttCfg are called once per offer to
// get a fresh Config for that session (e.g. to vary CaptureDir per
// call); negotiate is the PeerConnection boundary. A nil metrics falls
// back to observe.NoOpMetrics().
func New(negotiate Negotiator, ingestCfg func() ingest.Config, sttCfg func() transcribe.Config, metrics *observe.Metrics, log ingest.Logger) *Manager {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	if metrics == nil {
		metrics = observe.NoOpMetrics()
	}
	return &Manager{
		negotiate: negotiate,
		ingestCfg: ingestCfg,
		sttCfg:    sttCfg,
		metrics:   metrics,
		log:       log,
		sessions:  make(map[string]*Entry),
	}
}

// Offer handles one signaling exchange: it negotiates the answer SDP,
// builds the ingest pipeline wired to the negotiated media/control
// callbacks, optionally connects the transcription session (when
// enableSTT is true, per the enable_stt query flag of spec.md §6),
// and registers the call under a freshly generated session/call id.
func (m *Manager) Offer(ctx context.Context, offerSDP string, enableSTT bool) (*Entry, string, error) {
	sessionID := uuid.New().String()
	callID := uuid.New().String()

	cfg := m.ingestCfg()
	if !enableSTT {
		cfg.TurnDetection = ingest.PolicyLocalVAD
	}

	var sess *session.Session
	var ctrl control.Channel
	onFrame := func(ingest.InputFrame) {}
	onControl := func([]byte) {}

	if enableSTT {
		// ctrl is filled in by the Negotiator callback below; build the
		// session against a forwarding shim so Offer can pass session
		// methods as the frame/control callbacks before ctrl exists.
		fwd := &forwardingChannel{}
		sess = session.New(sessionID, cfg, m.sttCfg(), fwd, m.metrics, m.log)
		onFrame = sess.PushFrame
		onControl = func(raw []byte) { _ = sess.HandleControlMessage(raw) }
		ctrl = fwd
	}

	answerSDP, pc, negotiatedCtrl, err := m.negotiate(ctx, offerSDP, onFrame, onControl)
	if err != nil {
		return nil, "", err
	}
	if fwd, ok := ctrl.(*forwardingChannel); ok {
		fwd.setTarget(negotiatedCtrl)
	}

	if sess != nil {
		if err := sess.Connect(ctx); err != nil {
			pc.Close()
			return nil, "", err
		}
	}

	entry := &Entry{
		SessionID: sessionID,
		CallID:    callID,
		CreatedAt: time.Now(),
		sess:      sess,
		pc:        pc,
	}

	m.mu.Lock()
	m.sessions[sessionID] = entry
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(ctx, 1)

	return entry, answerSDP, nil
}

// Hangup tears a call down and removes it from the registry.
func (m *Manager) Hangup(sessionID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	m.metrics.ActiveSessions.Add(context.Background(), -1)

	if entry.sess != nil {
		if err := entry.sess.Close(); err != nil {
			m.log.Warn("signaling: session close error", "session_id", sessionID, "err", err)
		}
	}
	return entry.pc.Close()
}

// ActiveSessions returns the number of currently registered calls.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// forwardingChannel lets Offer wire a session to control.Channel sends
// before the Negotiator has produced the real channel, then retarget
// once it has. Needed because session.New wants a non-nil Channel up
// front but the real one is only known after negotiation.
type forwardingChannel struct {
	mu     sync.Mutex
	target control.Channel
}

func (f *forwardingChannel) setTarget(c control.Channel) {
	f.mu.Lock()
	f.target = c
	f.mu.Unlock()
}

func (f *forwardingChannel) Send(env control.Envelope) {
	f.mu.Lock()
	target := f.target
	f.mu.Unlock()
	if target != nil {
		target.Send(env)
	}
}
