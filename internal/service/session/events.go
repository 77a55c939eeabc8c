package session

import (
	"context"

	"github.com/zhouzirui/facechat/backend/internal/model/chat"
)

// Events sent to the client.
const (
	EventUnsupported     = "unsupported"
	EventListen          = "listen"
	EventStopListening   = "stopListening"
	EventResetTranscript = "transcript.reset"
	EventPrompt          = "prompt"
	EventMessages        = "messages"
	EventSpeechCancel    = "speech.cancel"
	EventSpeechSpeak     = "speech.speak"
	EventFace            = "face"
	EventCameraStart     = "camera.start"
	EventCameraStop      = "camera.stop"
)

// Emitter delivers one event to the client.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}

// Capabilities is what the client reports in its hello.
type Capabilities struct {
	SpeechRecognition bool `json:"speechRecognition"`
	SpeechSynthesis   bool `json:"speechSynthesis"`
	Camera            bool `json:"camera"`
	// AudioCapture means the client can record audio segments for server
	// recognition.
	AudioCapture bool `json:"audioCapture"`
}

// ListenPayload starts the client recognizer.
type ListenPayload struct {
	Continuous bool   `json:"continuous"`
	Language   string `json:"language,omitempty"`
	// Mode is "browser" for the built-in recognizer or "server" to stream
	// recorded audio back as audio events.
	Mode string `json:"mode"`
}

// SpeakPayload asks the client to play one utterance.
type SpeakPayload struct {
	Text      string  `json:"text"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
	Volume    float64 `json:"volume"`
	AudioData string  `json:"audioData,omitempty"` // base64
	Format    string  `json:"format,omitempty"`
}

// FacePayload reports the presence flag.
type FacePayload struct {
	Present bool   `json:"present"`
	Label   string `json:"label,omitempty"`
}

// CameraPayload carries the requested video constraints.
type CameraPayload struct {
	Video bool `json:"video"`
}

// MessageView is a log entry as rendered by the client.
type MessageView struct {
	chat.Message
	Speaker string `json:"speaker"`
}

// UnsupportedPayload explains why the session stopped.
type UnsupportedPayload struct {
	Message string `json:"message"`
}

// PromptPayload mirrors the prompt field.
type PromptPayload struct {
	Text string `json:"text"`
}

// MessageViews tags each message with its speaker label.
func MessageViews(messages []chat.Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, MessageView{Message: m, Speaker: m.Speaker()})
	}
	return views
}
