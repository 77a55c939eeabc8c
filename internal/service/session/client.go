package session

import (
	"context"
	"encoding/base64"
	"log"

	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
	"github.com/zhouzirui/facechat/backend/internal/service/capture"
	"github.com/zhouzirui/facechat/backend/internal/service/conversation"
)

const (
	listenModeBrowser = "browser"
	listenModeServer  = "server"
)

// clientRecognizer drives the recognizer that runs in the client.
type clientRecognizer struct {
	emit Emitter
	mode string
}

func (r *clientRecognizer) Start(ctx context.Context, opts capture.ListenOptions) error {
	return r.emit.Emit(ctx, EventListen, ListenPayload{
		Continuous: opts.Continuous,
		Language:   opts.Language,
		Mode:       r.mode,
	})
}

func (r *clientRecognizer) Stop(ctx context.Context) error {
	return r.emit.Emit(ctx, EventStopListening, nil)
}

func (r *clientRecognizer) ResetTranscript(ctx context.Context) error {
	return r.emit.Emit(ctx, EventResetTranscript, nil)
}

// clientSpeaker plays replies on the client. Server audio is attached when a
// synthesizer is configured; otherwise the client's own synthesizer speaks.
type clientSpeaker struct {
	sessionID string
	emit      Emitter
	synth     Synthesizer
	canSpeak  bool
}

func (s *clientSpeaker) Cancel(ctx context.Context) error {
	return s.emit.Emit(ctx, EventSpeechCancel, nil)
}

func (s *clientSpeaker) Speak(ctx context.Context, u conversation.Utterance) error {
	payload := SpeakPayload{
		Text:   u.Text,
		Rate:   u.Voice.Rate,
		Pitch:  u.Voice.Pitch,
		Volume: u.Voice.Volume,
	}

	if s.synth != nil && s.synth.Enabled() {
		out, err := s.synth.Synthesize(ctx, speechmodel.SynthesisRequest{
			SessionID: s.sessionID,
			Text:      u.Text,
			Rate:      u.Voice.Rate,
			Volume:    u.Voice.Volume,
		})
		if err == nil {
			payload.AudioData = base64.StdEncoding.EncodeToString(out.Audio)
			payload.Format = out.Format
		} else {
			log.Printf("[session] session=%s server synthesis failed, falling back to client: %v", s.sessionID, err)
		}
	}

	if payload.AudioData == "" && !s.canSpeak {
		return conversation.ErrSynthesisUnavailable
	}
	return s.emit.Emit(ctx, EventSpeechSpeak, payload)
}
