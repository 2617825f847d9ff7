package segment

import (
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// fakeSink records Append/Commit/Clear calls and lets tests control
// the buffered_ms the segmenter observes at hangover expiry.
type fakeSink struct {
	mu         sync.Mutex
	appended   [][]byte
	commits    int
	clears     int
	bufferedMs int
}

func (f *fakeSink) Append(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	f.appended = append(f.appended, cp)
	f.bufferedMs += 20
	return nil
}

func (f *fakeSink) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeSink) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.appended = nil
	f.bufferedMs = 0
	return nil
}

func (f *fakeSink) BufferedMs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferedMs
}

func (f *fakeSink) snapshot() (appends, commits, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended), f.commits, f.clears
}

func testConfig() ingest.Config {
	cfg := ingest.DefaultConfig()
	cfg.PreRollMs = 200   // 10 chunks
	cfg.HangoverMs = 300  // clamps to the 300ms floor
	cfg.MinCommitMs = 100 // 5 chunks worth
	return cfg
}

func chunk(fill byte) []byte {
	c := make([]byte, ingest.ChunkBytes)
	for i := range c {
		c[i] = fill
	}
	return c
}

func waitFor(t *testing.T, desc string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", desc)
}

func TestSegmenterOneWordThenSilence(t *testing.T) {
	sink := &fakeSink{}
	seg := New(testConfig(), sink, nil)

	// A few silent chunks feed the pre-roll ring without appending.
	for i := 0; i < 3; i++ {
		if err := seg.ProcessChunk(chunk(0), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if appends, _, _ := sink.snapshot(); appends != 0 {
		t.Fatalf("expected no appends while idle, got %d", appends)
	}

	// Speech starts: pre-roll drains then the live chunk appends.
	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State() != "speech" {
		t.Fatalf("expected state speech, got %s", seg.State())
	}
	if appends, _, _ := sink.snapshot(); appends != 4 {
		t.Fatalf("expected 3 drained pre-roll chunks + 1 live chunk = 4 appends, got %d", appends)
	}

	// A handful more speech chunks to clear min_commit_ms, then silence.
	for i := 0; i < 4; i++ {
		if err := seg.ProcessChunk(chunk(1), true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := seg.ProcessChunk(chunk(0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State() != "hangover" {
		t.Fatalf("expected state hangover, got %s", seg.State())
	}

	waitFor(t, "hangover to expire and commit", time.Second, func() bool {
		return seg.State() == "idle"
	})
	_, commits, clears := sink.snapshot()
	if commits != 1 || clears != 1 {
		t.Fatalf("expected exactly one commit and one clear, got commits=%d clears=%d", commits, clears)
	}
}

func TestSegmenterSpeechResumesDuringHangover(t *testing.T) {
	sink := &fakeSink{}
	seg := New(testConfig(), sink, nil)

	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seg.ProcessChunk(chunk(0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State() != "hangover" {
		t.Fatalf("expected hangover, got %s", seg.State())
	}

	// Resume speech well before the hangover timer (300ms floor) fires.
	time.Sleep(30 * time.Millisecond)
	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State() != "speech" {
		t.Fatalf("expected state to return to speech, got %s", seg.State())
	}

	// Give the now-cancelled hangover goroutine a chance to have fired
	// erroneously; it must not have committed.
	time.Sleep(400 * time.Millisecond)
	_, commits, clears := sink.snapshot()
	if commits != 0 || clears != 0 {
		t.Fatalf("expected no commit/clear from a cancelled hangover, got commits=%d clears=%d", commits, clears)
	}
}

func TestSegmenterBackToBackUtterances(t *testing.T) {
	sink := &fakeSink{}
	seg := New(testConfig(), sink, nil)

	runOneUtterance := func() {
		if err := seg.ProcessChunk(chunk(1), true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 0; i < 4; i++ {
			if err := seg.ProcessChunk(chunk(1), true); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if err := seg.ProcessChunk(chunk(0), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitFor(t, "utterance to commit", time.Second, func() bool {
			return seg.State() == "idle"
		})
	}

	runOneUtterance()
	firstID := seg.SegmentID()
	_, commits, clears := sink.snapshot()
	if commits != 1 || clears != 1 {
		t.Fatalf("expected 1 commit/clear after first utterance, got commits=%d clears=%d", commits, clears)
	}

	runOneUtterance()
	secondID := seg.SegmentID()
	if secondID == firstID {
		t.Fatalf("expected a new segment id for the second utterance")
	}
	_, commits, clears = sink.snapshot()
	if commits != 2 || clears != 2 {
		t.Fatalf("expected 2 commits/clears after second utterance, got commits=%d clears=%d", commits, clears)
	}
}

func TestSegmenterSkipsCommitBelowMinCommitMs(t *testing.T) {
	sink := &fakeSink{}
	cfg := testConfig()
	cfg.MinCommitMs = 1000 // far above what a single chunk produces
	seg := New(cfg, sink, nil)

	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seg.ProcessChunk(chunk(0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, "hangover to expire", time.Second, func() bool {
		return seg.State() == "idle"
	})
	_, commits, clears := sink.snapshot()
	if commits != 0 || clears != 0 {
		t.Fatalf("expected no commit/clear below min_commit_ms, got commits=%d clears=%d", commits, clears)
	}
}

func TestSegmenterOnCommitAndOnSegmentOpenCallbacks(t *testing.T) {
	sink := &fakeSink{}
	seg := New(testConfig(), sink, nil)

	var openedID int
	var committedID int
	var mu sync.Mutex
	seg.OnSegmentOpen = func(id int) {
		mu.Lock()
		defer mu.Unlock()
		openedID = id
	}
	seg.OnCommit = func(id int) {
		mu.Lock()
		defer mu.Unlock()
		committedID = id
	}

	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	if openedID != 1 {
		t.Fatalf("expected OnSegmentOpen(1), got %d", openedID)
	}
	mu.Unlock()

	// A few more speech chunks so the segment clears min_commit_ms.
	for i := 0; i < 4; i++ {
		if err := seg.ProcessChunk(chunk(1), true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := seg.ProcessChunk(chunk(0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "commit callback", time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return committedID == 1
	})
}

func TestSegmenterClosePreventsLateCommit(t *testing.T) {
	sink := &fakeSink{}
	seg := New(testConfig(), sink, nil)

	if err := seg.ProcessChunk(chunk(1), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seg.ProcessChunk(chunk(0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg.Close()

	time.Sleep(400 * time.Millisecond)
	_, commits, clears := sink.snapshot()
	if commits != 0 || clears != 0 {
		t.Fatalf("expected Close to cancel the pending hangover commit, got commits=%d clears=%d", commits, clears)
	}
}
