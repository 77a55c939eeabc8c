// Package conversation turns a prompt into a spoken, logged reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/facechat/backend/internal/metrics"
	"github.com/zhouzirui/facechat/backend/internal/model/chat"
)

var (
	// ErrEmptyPrompt is returned by Turn for blank input. Submit treats blank
	// input as a silent no-op.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrBusy means the turn queue is full.
	ErrBusy = errors.New("a conversation turn is already queued")
	// ErrClosed means the engine's turn loop has exited.
	ErrClosed = errors.New("conversation engine closed")
	// ErrSynthesisUnavailable is returned by speakers that cannot speak.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
)

// Generator produces a complete reply for one prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Voice is the fixed profile applied to every spoken reply.
type Voice struct {
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// Utterance is one piece of text to speak.
type Utterance struct {
	Text  string
	Voice Voice
}

// Speaker plays utterances. At most one utterance is active: Cancel stops
// whatever is playing.
type Speaker interface {
	Cancel(ctx context.Context) error
	Speak(ctx context.Context, u Utterance) error
}

// Log is the append-only message log of a session.
type Log interface {
	Append(ctx context.Context, sessionID string, messages ...chat.Message) ([]chat.Message, error)
}

// Turn is the result of one successful submission.
type Turn struct {
	Prompt   string
	Reply    string
	Spoken   string
	Messages []chat.Message
}

// Options tunes an Engine.
type Options struct {
	Voice Voice
	// QueueSize is how many submissions may wait behind the one in flight.
	QueueSize int
	// Timeout bounds the remote generation call. Zero means no bound.
	Timeout time.Duration
	// OnTurn is called from the turn loop after each successful turn.
	OnTurn func(Turn)
}

// Engine serializes the turns of one session. Submissions are queued and
// drained by Run one at a time, so the log always receives a prompt directly
// followed by its reply.
type Engine struct {
	sessionID string
	generator Generator
	speaker   Speaker
	log       Log
	opts      Options

	queue  chan string
	closed atomic.Bool
}

// NewEngine wires an engine for sessionID.
func NewEngine(sessionID string, generator Generator, speaker Speaker, messageLog Log, opts Options) *Engine {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Engine{
		sessionID: sessionID,
		generator: generator,
		speaker:   speaker,
		log:       messageLog,
		opts:      opts,
		queue:     make(chan string, opts.QueueSize),
	}
}

// Submit queues prompt for the turn loop. Blank prompts are ignored.
func (e *Engine) Submit(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	if e.closed.Load() {
		return ErrClosed
	}

	select {
	case e.queue <- prompt:
		return nil
	default:
		metrics.RecordTurn(metrics.TurnRejected, 0)
		return ErrBusy
	}
}

// Run drains the queue until ctx is done. Turn failures are logged and
// swallowed.
func (e *Engine) Run(ctx context.Context) error {
	defer e.closed.Store(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case prompt := <-e.queue:
			e.runTurn(ctx, prompt)
		}
	}
}

func (e *Engine) runTurn(ctx context.Context, prompt string) {
	start := time.Now()
	turn, err := e.Turn(ctx, prompt)
	if err != nil {
		metrics.RecordTurn(metrics.TurnError, time.Since(start))
		log.Printf("[conversation] turn failed session=%s: %v", e.sessionID, err)
		return
	}

	metrics.RecordTurn(metrics.TurnSuccess, time.Since(start))
	if e.opts.OnTurn != nil {
		e.opts.OnTurn(turn)
	}
}

// Turn runs one submission synchronously: generate, speak the cleaned reply,
// then log the prompt and the raw reply. Nothing is logged unless every step
// before the append succeeds.
func (e *Engine) Turn(ctx context.Context, prompt string) (Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return Turn{}, ErrEmptyPrompt
	}

	reply, err := e.generate(ctx, prompt)
	if err != nil {
		return Turn{}, err
	}

	spoken := CleanReply(reply)
	log.Printf("[conversation] session=%s reply length=%d spoken length=%d", e.sessionID, len(reply), len(spoken))

	if err := e.speaker.Cancel(ctx); err != nil {
		return Turn{}, fmt.Errorf("cancel speech: %w", err)
	}
	if err := e.speaker.Speak(ctx, Utterance{Text: spoken, Voice: e.opts.Voice}); err != nil {
		return Turn{}, fmt.Errorf("speak reply: %w", err)
	}

	stored, err := e.log.Append(ctx, e.sessionID,
		chat.UserMessage(e.sessionID, prompt),
		chat.ReplyMessage(e.sessionID, reply),
	)
	if err != nil {
		return Turn{}, fmt.Errorf("append messages: %w", err)
	}

	return Turn{Prompt: prompt, Reply: reply, Spoken: spoken, Messages: stored}, nil
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	reply, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply, nil
}
