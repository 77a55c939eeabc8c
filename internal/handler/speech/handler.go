package speech

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/facechat/backend/internal/service/speech"
	"github.com/zhouzirui/facechat/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Enabled() bool
	Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (*speechmodel.Synthesis, error)
	Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	language  string
}

// New 创建语音处理器，请求未指定语言时使用 language
func New(speechSvc SpeechService, language string) *Handler {
	return &Handler{speechSvc: speechSvc, language: language}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求（multipart 字段 "audio"）
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !h.speechSvc.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrDisabled.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.language
	}

	out, err := h.speechSvc.Transcribe(r.Context(), speechmodel.TranscriptionRequest{
		SessionID: r.FormValue("sessionId"),
		Audio:     audio,
		Format:    inferAudioFormat(header.Filename),
		Language:  language,
	})
	if err != nil {
		log.Printf("[speech] ASR error: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, out)
}

// handleSynthesize 处理文本转语音请求，直接返回音频
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if !h.speechSvc.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrDisabled.Error())
		return
	}

	var req speechmodel.SynthesisRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := h.speechSvc.Synthesize(r.Context(), req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		utils.RespondError(w, status, "speech synthesis failed")
		return
	}

	format := out.Format
	if format == "" {
		format = "octet-stream"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Audio)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Audio); err != nil {
		log.Printf("[speech] failed to write audio response: %v", err)
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if !h.speechSvc.Enabled() {
		status = "disabled"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "speech",
		"enabled": h.speechSvc.Enabled(),
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pcm", ".ogg", ".mp3", ".wav":
		return strings.TrimPrefix(ext, ".")
	case ".opus":
		return "ogg"
	default:
		return "wav"
	}
}
