package turn

import (
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

type event struct {
	kind string
	turn int
	text string
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeEmitter) SpeechStarted(turnID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "speech_started", turn: turnID})
}

func (f *fakeEmitter) SpeechStopped(turnID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "speech_stopped", turn: turnID})
}

func (f *fakeEmitter) Partial(turnID int, delta, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "partial", turn: turnID, text: text})
}

func (f *fakeEmitter) Final(turnID int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "final", turn: turnID, text: text})
}

func (f *fakeEmitter) snapshot() []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event, len(f.events))
	copy(out, f.events)
	return out
}

func waitForEvent(t *testing.T, em *fakeEmitter, kind string, timeout time.Duration) event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range em.snapshot() {
			if e.kind == kind {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %q", kind)
	return event{}
}

func TestCoordinatorLocalVADCommitIsImplicitStop(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyLocalVAD, em, time.Second, nil)

	c.OnPartial("hello")
	c.OnSegmentCommit()

	events := em.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected partial + speech_stopped, got %v", events)
	}
	if events[0].kind != "partial" || events[0].text != "hello" {
		t.Fatalf("unexpected first event: %v", events[0])
	}
	if events[1].kind != "speech_stopped" || events[1].turn != 1 {
		t.Fatalf("unexpected second event: %v", events[1])
	}
	if !c.AwaitingFinal() {
		t.Fatalf("expected awaiting_final after commit")
	}
}

func TestCoordinatorFinalTimeoutFallback(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, 50*time.Millisecond, nil)

	c.OnSpeechStarted()
	c.OnPartial("hello")
	c.OnPartial(" world")
	c.OnSpeechStopped()

	ev := waitForEvent(t, em, "final", time.Second)
	if ev.text != "hello world" {
		t.Fatalf("expected synthesized final 'hello world', got %q", ev.text)
	}
	if ev.turn != 1 {
		t.Fatalf("expected turn 1, got %d", ev.turn)
	}
	if c.AwaitingFinal() {
		t.Fatalf("expected awaiting_final to clear after the timeout fallback")
	}
}

func TestCoordinatorFinalTimeoutFallsBackToInaudible(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, 30*time.Millisecond, nil)

	c.OnSpeechStarted()
	c.OnSpeechStopped()

	ev := waitForEvent(t, em, "final", time.Second)
	if ev.text != "[inaudible]" {
		t.Fatalf("expected [inaudible] sentinel, got %q", ev.text)
	}
}

func TestCoordinatorProviderFinalCancelsTimeout(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, 200*time.Millisecond, nil)

	c.OnSpeechStarted()
	c.OnPartial("hi")
	c.OnSpeechStopped()
	c.OnFinal("hi there")

	events := em.snapshot()
	finals := 0
	for _, e := range events {
		if e.kind == "final" {
			finals++
			if e.text != "hi there" {
				t.Fatalf("expected provider final text, got %q", e.text)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final, got %d", finals)
	}

	// Wait past the timeout window: the cancelled timer must not fire
	// a second, stale final.
	time.Sleep(300 * time.Millisecond)
	events = em.snapshot()
	finals = 0
	for _, e := range events {
		if e.kind == "final" {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected the cancelled timeout to never fire, got %d finals", finals)
	}
}

func TestCoordinatorFinalWhileNotAwaitingIsDropped(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, time.Second, nil)

	c.OnFinal("stray")

	events := em.snapshot()
	if len(events) != 0 {
		t.Fatalf("expected a stray final with no open turn to be dropped, got %v", events)
	}
}

func TestCoordinatorSpeechStartedDuringAwaitingFinalOpensNewTurn(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, time.Second, nil)

	c.OnSpeechStarted()
	c.OnPartial("first")
	c.OnSpeechStopped()
	if !c.AwaitingFinal() {
		t.Fatalf("expected awaiting_final after first speech_stopped")
	}

	c.OnSpeechStarted()
	if c.AwaitingFinal() {
		t.Fatalf("expected awaiting_final cleared by the new speech_started")
	}
	if c.CurrentTurnID() != 2 {
		t.Fatalf("expected turn 2, got %d", c.CurrentTurnID())
	}

	c.OnPartial("second")
	events := em.snapshot()
	var lastPartial event
	for _, e := range events {
		if e.kind == "partial" {
			lastPartial = e
		}
	}
	if lastPartial.turn != 2 || lastPartial.text != "second" {
		t.Fatalf("expected second turn's partial to be isolated from the first, got %v", lastPartial)
	}
}

func TestCoordinatorCloseCancelsPendingTimeout(t *testing.T) {
	em := &fakeEmitter{}
	c := New(ingest.PolicyServerVAD, em, 50*time.Millisecond, nil)

	c.OnSpeechStarted()
	c.OnSpeechStopped()
	c.Close()

	time.Sleep(150 * time.Millisecond)
	for _, e := range em.snapshot() {
		if e.kind == "final" {
			t.Fatalf("expected Close to cancel the pending timeout, got a final: %v", e)
		}
	}
}
