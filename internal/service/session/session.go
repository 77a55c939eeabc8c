// Package session ties the per-page pieces together: speech capture, the
// face presence monitor and the conversation engine. A Session is created
// when a client connects and torn down when it leaves.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/facechat/backend/internal/config"
	"github.com/zhouzirui/facechat/backend/internal/metrics"
	"github.com/zhouzirui/facechat/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
	"github.com/zhouzirui/facechat/backend/internal/service/capture"
	"github.com/zhouzirui/facechat/backend/internal/service/conversation"
	"github.com/zhouzirui/facechat/backend/internal/service/face"
)

// ErrUnsupported means neither the client nor the server can recognize speech.
var ErrUnsupported = errors.New("speech recognition is not supported")

const (
	unsupportedMessage = "Speech recognition is not supported in this browser."
	faceAbsentLabel    = "Face not detected"
	frameMaxAge        = 5 * time.Second
)

// Synthesizer renders speech on the server.
type Synthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (*speechmodel.Synthesis, error)
}

// Transcriber recognizes recorded audio on the server.
type Transcriber interface {
	Enabled() bool
	Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error)
}

// MessageLog is the part of the chat service a session needs.
type MessageLog interface {
	conversation.Log
	Transcript(ctx context.Context, sessionID string) ([]chat.Message, error)
	CloseSession(ctx context.Context, sessionID string)
}

// Deps are shared by every session.
type Deps struct {
	Generator   conversation.Generator
	Log         MessageLog
	Synthesizer Synthesizer
	Transcriber Transcriber
	FaceLoader  face.Loader
	Config      *config.Config
}

// Session is the state of one connected page.
type Session struct {
	id   string
	emit Emitter
	deps Deps

	frames  *face.FrameBuffer
	capture *capture.Capture
	monitor *face.Monitor
	engine  *conversation.Engine

	mu          sync.Mutex
	prompt      string
	audio       []byte
	audioFormat string
	mounted     bool
	unsupported bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session bound to emit. Nothing runs until Mount.
func New(id string, emit Emitter, deps Deps) *Session {
	metrics.SessionOpened()
	return &Session{
		id:     id,
		emit:   emit,
		deps:   deps,
		frames: face.NewFrameBuffer(frameMaxAge),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mount performs the setup a page does when it appears: check speech
// support, start the camera, start listening, and start the polling and
// turn loops. Without speech support nothing else is started.
func (s *Session) Mount(ctx context.Context, caps Capabilities) error {
	s.mu.Lock()
	if s.closed || s.mounted || s.unsupported {
		s.mu.Unlock()
		return nil
	}

	mode := ""
	switch {
	case caps.SpeechRecognition:
		mode = listenModeBrowser
	case caps.AudioCapture && s.deps.Transcriber != nil && s.deps.Transcriber.Enabled():
		mode = listenModeServer
	}

	if mode == "" {
		s.unsupported = true
		s.mu.Unlock()
		log.Printf("[session] session=%s speech recognition unsupported", s.id)
		if err := s.emit.Emit(ctx, EventUnsupported, UnsupportedPayload{Message: unsupportedMessage}); err != nil {
			log.Printf("[session] session=%s failed to send unsupported notice: %v", s.id, err)
		}
		return ErrUnsupported
	}

	cfg := s.deps.Config
	s.capture = capture.New(&clientRecognizer{emit: s.emit, mode: mode}, capture.Options{
		Debounce:    cfg.Capture.Debounce,
		Language:    cfg.Capture.Language,
		OnUtterance: s.onUtterance,
	})
	s.monitor = face.NewMonitor(s.frames, s.deps.FaceLoader, face.MonitorConfig{
		Interval: cfg.Face.Interval,
		Detect: face.DetectOptions{
			InputSize:      cfg.Face.InputSize,
			ScoreThreshold: cfg.Face.ScoreThreshold,
		},
		OnChange: s.onFace,
	})
	speaker := &clientSpeaker{
		sessionID: s.id,
		emit:      s.emit,
		synth:     s.deps.Synthesizer,
		canSpeak:  caps.SpeechSynthesis,
	}
	s.engine = conversation.NewEngine(s.id, s.deps.Generator, speaker, s.deps.Log, conversation.Options{
		Voice: conversation.Voice{
			Rate:   cfg.Voice.Rate,
			Pitch:  cfg.Voice.Pitch,
			Volume: cfg.Voice.Volume,
		},
		QueueSize: cfg.Conversation.QueueSize,
		Timeout:   cfg.Conversation.Timeout,
		OnTurn:    s.onTurn,
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(loopCtx)
	s.ctx, s.cancel, s.group = groupCtx, cancel, group
	// The loops join the group before mounted is visible, so a teardown
	// that sees mounted always waits for them.
	group.Go(func() error { return s.engine.Run(groupCtx) })
	group.Go(func() error { return s.monitor.Run(groupCtx) })
	s.mounted = true
	s.mu.Unlock()

	if caps.Camera {
		if err := s.emit.Emit(ctx, EventCameraStart, CameraPayload{Video: true}); err != nil {
			log.Printf("[session] session=%s error accessing webcam: %v", s.id, err)
		}
	} else {
		log.Printf("[session] session=%s client reported no camera", s.id)
	}
	s.emitFace(ctx, false)
	if err := s.sendMessages(ctx); err != nil {
		log.Printf("[session] session=%s failed to send messages: %v", s.id, err)
	}

	s.capture.Start(ctx)
	log.Printf("[session] session=%s mounted listen=%s synth=%t", s.id, mode, caps.SpeechSynthesis)
	return nil
}

// active reports whether inbound client input should be handled.
func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted && !s.closed
}

// SetPrompt records typed input.
func (s *Session) SetPrompt(text string) {
	if !s.active() {
		return
	}
	s.mu.Lock()
	s.prompt = text
	s.mu.Unlock()
}

// Prompt returns the current prompt text.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Submit sends the current prompt and resets the live transcript.
func (s *Session) Submit(ctx context.Context) {
	if !s.active() {
		return
	}
	s.submit(s.Prompt())
	s.capture.Reset(ctx)
}

// ToggleListening flips continuous listening on or off.
func (s *Session) ToggleListening(ctx context.Context) {
	if !s.active() {
		return
	}
	s.capture.Toggle(ctx)
}

// UpdateTranscript replaces the live transcript reported by the client
// recognizer.
func (s *Session) UpdateTranscript(text string) {
	if !s.active() {
		return
	}
	s.capture.Update(text)
}

// ListeningChanged records the recognizer state reported by the client.
func (s *Session) ListeningChanged(active bool) {
	if !s.active() {
		return
	}
	s.capture.SetListening(active)
}

// ListenFailed records an asynchronous recognizer failure.
func (s *Session) ListenFailed(message string) {
	if !s.active() {
		return
	}
	s.capture.ReportError(message)
}

// PushFrame stores the latest camera frame.
func (s *Session) PushFrame(image []byte, readyState int) {
	if !s.active() {
		return
	}
	s.frames.Put(image, readyState)
}

// CameraFailed records a camera acquisition failure. Presence detection
// keeps skipping ticks until frames arrive.
func (s *Session) CameraFailed(message string) {
	if !s.active() {
		return
	}
	log.Printf("[session] session=%s error accessing webcam: %s", s.id, message)
	s.frames.Clear()
}

// PushAudio buffers a recorded audio chunk. The final chunk of a segment
// sends the segment to server recognition.
func (s *Session) PushAudio(chunk []byte, format string, final bool) {
	if !s.active() || s.deps.Transcriber == nil || !s.deps.Transcriber.Enabled() {
		return
	}

	s.mu.Lock()
	s.audio = append(s.audio, chunk...)
	if format != "" {
		s.audioFormat = format
	}
	if !final {
		s.mu.Unlock()
		return
	}
	segment, segmentFormat := s.audio, s.audioFormat
	s.audio = nil
	if len(segment) == 0 || s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.group.Go(func() error {
		out, err := s.deps.Transcriber.Transcribe(ctx, speechmodel.TranscriptionRequest{
			SessionID: s.id,
			Audio:     segment,
			Format:    segmentFormat,
			Language:  s.deps.Config.Capture.Language,
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[session] session=%s server recognition failed: %v", s.id, err)
			}
			return nil
		}
		s.capture.Append(out.Text)
		return nil
	})
	s.mu.Unlock()
}

// Close tears the session down: listening stops, the debounce timer and the
// polling and turn loops end, the camera is released and the message log is
// dropped. It is safe to call more than once and from any exit path.
func (s *Session) Close(ctx context.Context) {
	s.teardown(ctx, true)
}

// Supersede tears the session down like Close but keeps the message log, for
// a page that reconnected under the same ID.
func (s *Session) Supersede(ctx context.Context) {
	s.teardown(ctx, false)
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) teardown(ctx context.Context, dropLog bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		mounted := s.mounted
		s.mu.Unlock()

		if mounted {
			s.capture.Close(ctx)
			s.cancel()
			if err := s.group.Wait(); err != nil {
				log.Printf("[session] session=%s loop error: %v", s.id, err)
			}
			if err := s.emit.Emit(ctx, EventCameraStop, nil); err != nil {
				log.Printf("[session] session=%s failed to stop camera: %v", s.id, err)
			}
		}

		s.frames.Clear()
		if dropLog {
			s.deps.Log.CloseSession(ctx, s.id)
		}
		metrics.SessionClosed()
		close(s.done)
		log.Printf("[session] session=%s closed keepLog=%t", s.id, !dropLog)
	})
}

// onUtterance handles a finalized transcript from the debounce timer.
func (s *Session) onUtterance(text string) {
	if !s.active() {
		return
	}
	metrics.RecordUtterance()

	s.mu.Lock()
	s.prompt = text
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.emit.Emit(ctx, EventPrompt, PromptPayload{Text: text}); err != nil {
		log.Printf("[session] session=%s failed to sync prompt: %v", s.id, err)
	}
	s.submit(text)
}

func (s *Session) submit(prompt string) {
	if err := s.engine.Submit(prompt); err != nil {
		log.Printf("[session] session=%s submission dropped: %v", s.id, err)
	}
}

// onTurn runs on the turn loop after a successful turn.
func (s *Session) onTurn(conversation.Turn) {
	s.mu.Lock()
	s.prompt = ""
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.emit.Emit(ctx, EventPrompt, PromptPayload{}); err != nil {
		log.Printf("[session] session=%s failed to clear prompt: %v", s.id, err)
	}
	if err := s.sendMessages(ctx); err != nil {
		log.Printf("[session] session=%s failed to send messages: %v", s.id, err)
	}
}

func (s *Session) sendMessages(ctx context.Context) error {
	messages, err := s.deps.Log.Transcript(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	return s.emit.Emit(ctx, EventMessages, MessageViews(messages))
}

func (s *Session) onFace(present bool) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.emitFace(ctx, present)
}

func (s *Session) emitFace(ctx context.Context, present bool) {
	payload := FacePayload{Present: present}
	if !present {
		payload.Label = faceAbsentLabel
	}
	if err := s.emit.Emit(ctx, EventFace, payload); err != nil {
		log.Printf("[session] session=%s failed to send face state: %v", s.id, err)
	}
}
