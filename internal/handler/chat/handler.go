package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/facechat/backend/internal/service/chat"
	"github.com/zhouzirui/facechat/backend/internal/service/session"
	"github.com/zhouzirui/facechat/backend/pkg/utils"
)

// Handler 会话与消息日志的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	created, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	found, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, found)
}

// handleListMessages 返回会话的消息日志
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.Transcript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": session.MessageViews(messages),
	})
}

func (h *Handler) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
