// Package speech holds the request and result types of the server speech
// backend.
package speech

import "time"

// SynthesisRequest asks for one utterance to be rendered to audio.
type SynthesisRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Language  string  `json:"language,omitempty"`
	Format    string  `json:"format,omitempty"` // mp3, ogg_opus, pcm
	Rate      float64 `json:"rate,omitempty"`   // 1 is normal speed
	Volume    float64 `json:"volume,omitempty"` // 1 is normal volume
}

// Synthesis is rendered audio for one utterance.
type Synthesis struct {
	SessionID string    `json:"sessionId"`
	Audio     []byte    `json:"-"`
	Format    string    `json:"format"`
	Duration  int64     `json:"duration"` // milliseconds
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TranscriptionRequest carries one recorded audio segment.
type TranscriptionRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"-"`
	Format    string `json:"format"` // wav, pcm, ogg
	Language  string `json:"language,omitempty"`
}

// Transcription is the recognized text of one audio segment.
type Transcription struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Duration  int64     `json:"duration"` // milliseconds
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
