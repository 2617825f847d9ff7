package vad

import (
	"errors"
	"testing"
)

type fakeEngine struct {
	result    Result
	err       error
	resetErr  error
	closeErr  error
	resets    int
	closes    int
	lastRate  uint32
	lastChunk []byte
}

func (f *fakeEngine) ProcessChunk(pcm []byte, sampleRate uint32) (Result, error) {
	f.lastChunk = pcm
	f.lastRate = sampleRate
	return f.result, f.err
}

func (f *fakeEngine) Reset() error {
	f.resets++
	return f.resetErr
}

func (f *fakeEngine) Close() error {
	f.closes++
	return f.closeErr
}

func TestGateReturnsEngineDecision(t *testing.T) {
	fe := &fakeEngine{result: Result{IsSpeech: true, Confidence: 0.9}}
	g := NewGate(fe, nil)
	if !g.IsSpeech(make([]byte, 640)) {
		t.Fatalf("expected true from engine result")
	}
	if fe.lastRate != 16000 {
		t.Fatalf("expected gate to call engine at 16kHz, got %d", fe.lastRate)
	}
}

func TestGateTreatsEngineErrorAsSilence(t *testing.T) {
	fe := &fakeEngine{result: Result{IsSpeech: true}, err: errors.New("boom")}
	g := NewGate(fe, nil)
	if g.IsSpeech(make([]byte, 640)) {
		t.Fatalf("expected engine error to be reported as silence")
	}
}

func TestGateResetAndCloseForwardToEngine(t *testing.T) {
	fe := &fakeEngine{}
	g := NewGate(fe, nil)
	if err := g.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fe.resets != 1 || fe.closes != 1 {
		t.Fatalf("expected Reset/Close to forward exactly once each, got resets=%d closes=%d", fe.resets, fe.closes)
	}
}
