package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	starts   []ListenOptions
	stops    int
	resets   int
	startErr error
}

func (f *fakeRecognizer) Start(_ context.Context, opts ListenOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, opts)
	return nil
}

func (f *fakeRecognizer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecognizer) ResetTranscript(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeRecognizer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

const testDebounce = 40 * time.Millisecond

func newTestCapture(rec Recognizer) (*Capture, chan string) {
	utterances := make(chan string, 8)
	c := New(rec, Options{
		Debounce:    testDebounce,
		Language:    "en-US",
		OnUtterance: func(text string) { utterances <- text },
	})
	return c, utterances
}

func TestStartRequestsContinuousListening(t *testing.T) {
	rec := &fakeRecognizer{}
	c, _ := newTestCapture(rec)

	c.Start(context.Background())

	if !c.Listening() {
		t.Fatal("expected capture to be listening")
	}
	if len(rec.starts) != 1 || !rec.starts[0].Continuous || rec.starts[0].Language != "en-US" {
		t.Fatalf("unexpected start options: %+v", rec.starts)
	}
}

func TestStartFailureIsNotFatal(t *testing.T) {
	rec := &fakeRecognizer{startErr: errors.New("not allowed")}
	c, _ := newTestCapture(rec)

	c.Start(context.Background())

	if c.Listening() {
		t.Fatal("expected capture to stay idle after activation failure")
	}
}

func TestToggle(t *testing.T) {
	rec := &fakeRecognizer{}
	c, _ := newTestCapture(rec)

	c.Toggle(context.Background())
	if !c.Listening() {
		t.Fatal("expected first toggle to start listening")
	}
	c.Toggle(context.Background())
	if c.Listening() || rec.stopCount() != 1 {
		t.Fatal("expected second toggle to stop listening")
	}
}

func TestToggleAfterResetAndRecognizerErrorStops(t *testing.T) {
	rec := &fakeRecognizer{}
	c, utterances := newTestCapture(rec)

	c.Start(context.Background())
	c.Update("hello there")
	select {
	case <-utterances:
	case <-time.After(10 * testDebounce):
		t.Fatal("timed out waiting for utterance")
	}

	// The client aborts its recognizer on reset and reports the abort.
	c.ReportError("aborted")
	if !c.Listening() {
		t.Fatal("expected recognizer error to leave listening unchanged")
	}

	c.Toggle(context.Background())
	rec.mu.Lock()
	starts := len(rec.starts)
	rec.mu.Unlock()
	if c.Listening() || rec.stopCount() != 1 || starts != 1 {
		t.Fatalf("expected toggle to stop listening, starts=%d stops=%d", starts, rec.stopCount())
	}
}

func TestSetListeningFollowsClient(t *testing.T) {
	rec := &fakeRecognizer{}
	c, _ := newTestCapture(rec)
	c.Start(context.Background())

	c.SetListening(false)
	c.Toggle(context.Background())

	rec.mu.Lock()
	starts := len(rec.starts)
	rec.mu.Unlock()
	if !c.Listening() || starts != 2 {
		t.Fatalf("expected toggle to restart a stopped recognizer, starts=%d", starts)
	}
}

func TestDebounceSubmitsOnlyFinalValue(t *testing.T) {
	rec := &fakeRecognizer{}
	c, utterances := newTestCapture(rec)

	c.Update("hello")
	time.Sleep(testDebounce / 2)
	c.Update("hello world")

	select {
	case got := <-utterances:
		if got != "hello world" {
			t.Fatalf("expected final transcript, got %q", got)
		}
	case <-time.After(10 * testDebounce):
		t.Fatal("timed out waiting for utterance")
	}

	select {
	case extra := <-utterances:
		t.Fatalf("expected a single submission, got extra %q", extra)
	case <-time.After(3 * testDebounce):
	}

	if c.Transcript() != "" {
		t.Fatalf("expected transcript cleared, got %q", c.Transcript())
	}
	rec.mu.Lock()
	resets := rec.resets
	rec.mu.Unlock()
	if resets != 1 {
		t.Fatalf("expected recognizer transcript reset once, got %d", resets)
	}
}

func TestDebounceSkipsEmptyTranscript(t *testing.T) {
	c, utterances := newTestCapture(&fakeRecognizer{})

	c.Update("partial")
	c.Update("")

	select {
	case got := <-utterances:
		t.Fatalf("expected no submission for emptied transcript, got %q", got)
	case <-time.After(3 * testDebounce):
	}
}

func TestAppendJoinsSegments(t *testing.T) {
	c, utterances := newTestCapture(&fakeRecognizer{})

	c.Append("turn on")
	c.Append("  the lights ")

	select {
	case got := <-utterances:
		if got != "turn on the lights" {
			t.Fatalf("unexpected utterance %q", got)
		}
	case <-time.After(10 * testDebounce):
		t.Fatal("timed out waiting for utterance")
	}
}

func TestResetDropsPendingUtterance(t *testing.T) {
	c, utterances := newTestCapture(&fakeRecognizer{})

	c.Update("never mind")
	c.Reset(context.Background())

	select {
	case got := <-utterances:
		t.Fatalf("expected reset to cancel submission, got %q", got)
	case <-time.After(3 * testDebounce):
	}
}

func TestCloseStopsListeningAndTimer(t *testing.T) {
	rec := &fakeRecognizer{}
	c, utterances := newTestCapture(rec)
	c.Start(context.Background())
	c.Update("goodbye")

	c.Close(context.Background())
	c.Close(context.Background())

	if rec.stopCount() != 1 {
		t.Fatalf("expected recognizer stopped once, got %d", rec.stopCount())
	}
	if c.Listening() {
		t.Fatal("expected listening false after close")
	}

	c.Update("after close")
	select {
	case got := <-utterances:
		t.Fatalf("expected no activity after close, got %q", got)
	case <-time.After(3 * testDebounce):
	}
}
