// Package capture owns the live speech transcript of a session: it toggles
// the recognizer and turns a transcript that has gone quiet into a finalized
// utterance.
package capture

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Recognizer drives a continuous speech recognizer.
type Recognizer interface {
	Start(ctx context.Context, opts ListenOptions) error
	Stop(ctx context.Context) error
	// ResetTranscript clears whatever the recognizer has accumulated.
	ResetTranscript(ctx context.Context) error
}

// ListenOptions is sent to the recognizer when listening starts.
type ListenOptions struct {
	Continuous bool   `json:"continuous"`
	Language   string `json:"language,omitempty"`
}

// Options tunes a Capture.
type Options struct {
	Debounce time.Duration
	Language string
	// OnUtterance receives the transcript once it has been quiet for the
	// debounce window. It runs on the timer goroutine.
	OnUtterance func(text string)
}

// Capture holds the transcript that has not been submitted yet.
type Capture struct {
	recognizer Recognizer
	opts       Options

	mu         sync.Mutex
	transcript string
	listening  bool
	timer      *time.Timer
	generation uint64
	closed     bool
}

// New returns a Capture bound to recognizer.
func New(recognizer Recognizer, opts Options) *Capture {
	if opts.Debounce <= 0 {
		opts.Debounce = 1500 * time.Millisecond
	}
	return &Capture{recognizer: recognizer, opts: opts}
}

// Start begins continuous listening. Failures are reported to the log only.
func (c *Capture) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	err := c.recognizer.Start(ctx, ListenOptions{Continuous: true, Language: c.opts.Language})
	if err != nil {
		log.Printf("[capture] error starting speech recognition: %v", err)
		return
	}

	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()
}

// Stop ends listening.
func (c *Capture) Stop(ctx context.Context) {
	if err := c.recognizer.Stop(ctx); err != nil {
		log.Printf("[capture] error stopping speech recognition: %v", err)
	}

	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()
}

// Toggle stops listening when active and starts it otherwise.
func (c *Capture) Toggle(ctx context.Context) {
	if c.Listening() {
		c.Stop(ctx)
		return
	}
	c.Start(ctx)
}

// Listening reports whether the recognizer is believed to be active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// SetListening records the recognizer state reported by the client.
func (c *Capture) SetListening(active bool) {
	c.mu.Lock()
	c.listening = active
	c.mu.Unlock()
}

// ReportError logs a recognizer error reported by the client. Errors do not
// change the listening state; the client follows up with SetListening(false)
// when the recognizer has actually stopped.
func (c *Capture) ReportError(message string) {
	log.Printf("[capture] speech recognition error: %s", message)
}

// Update replaces the live transcript and restarts the debounce window.
func (c *Capture) Update(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || text == c.transcript {
		return
	}
	c.transcript = text
	c.scheduleLocked()
}

// Append extends the live transcript with a recognized segment.
func (c *Capture) Append(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.transcript == "" {
		c.transcript = segment
	} else {
		c.transcript = fmt.Sprintf("%s %s", c.transcript, segment)
	}
	c.scheduleLocked()
}

// Transcript returns the live transcript.
func (c *Capture) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Reset clears the transcript and drops any pending utterance.
func (c *Capture) Reset(ctx context.Context) {
	c.mu.Lock()
	c.transcript = ""
	c.cancelTimerLocked()
	c.mu.Unlock()

	if err := c.recognizer.ResetTranscript(ctx); err != nil {
		log.Printf("[capture] error resetting transcript: %v", err)
	}
}

// Close stops the debounce timer and the recognizer. Later updates are
// ignored. It is safe to call more than once.
func (c *Capture) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.Stop(ctx)
}

func (c *Capture) scheduleLocked() {
	c.cancelTimerLocked()
	generation := c.generation
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.finalize(generation) })
}

// cancelTimerLocked invalidates the pending timer even if its callback is
// already running.
func (c *Capture) cancelTimerLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Capture) finalize(generation uint64) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		return
	}
	text := c.transcript
	c.timer = nil
	if text == "" {
		c.mu.Unlock()
		return
	}
	c.transcript = ""
	c.generation++
	c.mu.Unlock()

	if c.opts.OnUtterance != nil {
		c.opts.OnUtterance(text)
	}
	if err := c.recognizer.ResetTranscript(context.Background()); err != nil {
		log.Printf("[capture] error resetting transcript: %v", err)
	}
}
