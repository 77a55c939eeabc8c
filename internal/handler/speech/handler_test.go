package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
)

type fakeSpeechService struct {
	enabled    bool
	err        error
	transcribe speechmodel.TranscriptionRequest
	synth      speechmodel.SynthesisRequest
}

func (f *fakeSpeechService) Enabled() bool { return f.enabled }

func (f *fakeSpeechService) Transcribe(_ context.Context, req speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error) {
	f.transcribe = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.Transcription{SessionID: req.SessionID, Text: "ok"}, nil
}

func (f *fakeSpeechService) Synthesize(_ context.Context, req speechmodel.SynthesisRequest) (*speechmodel.Synthesis, error) {
	f.synth = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.Synthesis{SessionID: req.SessionID, Audio: []byte("audio"), Format: "mp3"}, nil
}

func setupRouter(svc *fakeSpeechService) *chi.Mux {
	r := chi.NewRouter()
	New(svc, "en-US").RegisterRoutes(r)
	return r
}

func multipartAudio(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("RIFF....")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField err: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestTranscribeUpload(t *testing.T) {
	svc := &fakeSpeechService{enabled: true}
	r := setupRouter(svc)

	body, contentType := multipartAudio(t, "clip.ogg", map[string]string{"sessionId": "s-1"})
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rr.Code, rr.Body.String())
	}
	if svc.transcribe.SessionID != "s-1" || svc.transcribe.Format != "ogg" || svc.transcribe.Language != "en-US" {
		t.Fatalf("unexpected request: %+v", svc.transcribe)
	}

	var out speechmodel.Transcription
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil || out.Text != "ok" {
		t.Fatalf("unexpected response %+v err=%v", out, err)
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r := setupRouter(&fakeSpeechService{enabled: true})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("sessionId", "s-1")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	svc := &fakeSpeechService{enabled: true}
	r := setupRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{"text":"Hello","rate":0.9}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mp3" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Body.String() != "audio" || svc.synth.Rate != 0.9 {
		t.Fatalf("unexpected result body=%q req=%+v", rr.Body.String(), svc.synth)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	cases := []struct {
		name string
		svc  *fakeSpeechService
		body string
		want int
	}{
		{"disabled", &fakeSpeechService{}, `{"text":"hi"}`, http.StatusServiceUnavailable},
		{"blank text", &fakeSpeechService{enabled: true}, `{"text":"  "}`, http.StatusBadRequest},
		{"bad json", &fakeSpeechService{enabled: true}, `{`, http.StatusBadRequest},
		{"upstream failure", &fakeSpeechService{enabled: true, err: errors.New("boom")}, `{"text":"hi"}`, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			setupRouter(tc.svc).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestHealthReportsState(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/speech/health", nil)
	rr := httptest.NewRecorder()
	setupRouter(&fakeSpeechService{}).ServeHTTP(rr, req)

	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "disabled" || body["enabled"] != false {
		t.Fatalf("unexpected health body: %+v", body)
	}
}
