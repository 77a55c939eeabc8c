// Package speech is the optional server-side speech backend (Volcengine
// TTS and ASR). Browser recognition and synthesis work without it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/facechat/backend/internal/config"
	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
)

// ErrDisabled is returned when no Volcengine credentials are configured.
var ErrDisabled = errors.New("server speech is not configured")

// Service wraps the TTS and ASR clients.
type Service struct {
	enabled bool
	timeout time.Duration
	tts     *TTSClient
	asr     *ASRClient
}

// NewService builds the clients from config. A service without credentials
// is still usable; every call returns ErrDisabled.
func NewService(cfg config.SpeechConfig) *Service {
	dialer := &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)

	timeout := time.Duration(cfg.Timeout) * time.Second
	return &Service{
		enabled: cfg.Enabled && appID != "" && token != "",
		timeout: timeout,
		tts: &TTSClient{
			endpoint: cfg.TTSEndpoint,
			appID:    appID,
			token:    token,
			voice:    strings.TrimSpace(cfg.TTSVoice),
			language: cfg.TTSLanguage,
			dialer:   dialer,
		},
		asr: &ASRClient{
			endpoint: cfg.ASREndpoint,
			appID:    appID,
			token:    token,
			language: cfg.ASRLanguage,
			pace:     asrChunkPace,
			dialer:   dialer,
		},
	}
}

// Enabled reports whether server speech can be used.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Synthesize renders text to audio.
func (s *Service) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (*speechmodel.Synthesis, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return out, nil
}

// Transcribe recognizes one recorded audio segment.
func (s *Service) Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.asr.Transcribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}
	return out, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
