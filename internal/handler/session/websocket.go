package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/zhouzirui/facechat/backend/internal/service/chat"
	sessionsvc "github.com/zhouzirui/facechat/backend/internal/service/session"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
	maxFrameSize = 4 << 20
)

// Handler serves the live session socket.
type Handler struct {
	chatSvc  *chatservice.Service
	sessions *sessionsvc.Manager
	deps     sessionsvc.Deps
	upgrader websocket.Upgrader
}

// New returns a socket handler that attaches sessions to sessions.
func New(chatSvc *chatservice.Service, sessions *sessionsvc.Manager, deps sessionsvc.Deps) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		sessions: sessions,
		deps:     deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the socket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type textMessage struct {
	Text *string `json:"text"`
}

type listeningMessage struct {
	Active bool `json:"active"`
}

type errorMessage struct {
	Message string `json:"message"`
}

type frameMessage struct {
	Image      []byte `json:"image"` // base64 JPEG
	ReadyState int    `json:"readyState"`
}

type cameraMessage struct {
	Status  string `json:"status"` // "started", "error", "stopped"
	Message string `json:"message"`
}

type audioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// connWriter serializes writes to one socket. It is the session's Emitter.
type connWriter struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
}

func (w *connWriter) Emit(_ context.Context, eventType string, data any) error {
	return w.write(outgoingMessage{
		Type:      eventType,
		SessionID: w.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (w *connWriter) write(msg outgoingMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(msg)
}

func (w *connWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (w *connWriter) sendError(message string) {
	err := w.write(outgoingMessage{
		Type:      "error",
		SessionID: w.sessionID,
		Data:      errorMessage{Message: message},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// handleWebSocket upgrades the request and runs the read loop. The connection's lifetime is the
// session's lifetime: any exit from the read loop tears the session down.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &connWriter{conn: conn, sessionID: sessionID}
	sess := sessionsvc.New(sessionID, writer, h.deps)
	h.sessions.Attach(ctx, sess)
	defer h.sessions.Detach(context.Background(), sess)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, writer)
	go func() {
		select {
		case <-ctx.Done():
		case <-sess.Done():
			// Superseded by a newer connection or shut down.
			conn.Close()
		}
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error session=%s: %v", sessionID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			writer.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, writer, sess, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, writer *connWriter, sess *sessionsvc.Session, msg *inboundMessage) {
	switch msg.Type {
	case "hello":
		var caps sessionsvc.Capabilities
		if !decode(writer, msg, &caps) {
			return
		}
		if err := sess.Mount(ctx, caps); err != nil && !errors.Is(err, sessionsvc.ErrUnsupported) {
			log.Printf("[websocket] mount failed session=%s: %v", sess.ID(), err)
		}

	case "prompt":
		var payload textMessage
		if !decode(writer, msg, &payload) {
			return
		}
		if payload.Text != nil {
			sess.SetPrompt(*payload.Text)
		}

	case "submit":
		var payload textMessage
		if len(msg.Data) > 0 && !decode(writer, msg, &payload) {
			return
		}
		if payload.Text != nil {
			sess.SetPrompt(*payload.Text)
		}
		sess.Submit(ctx)

	case "toggleListening":
		sess.ToggleListening(ctx)

	case "transcript":
		var payload textMessage
		if !decode(writer, msg, &payload) {
			return
		}
		if payload.Text != nil {
			sess.UpdateTranscript(*payload.Text)
		}

	case "listening":
		var payload listeningMessage
		if !decode(writer, msg, &payload) {
			return
		}
		sess.ListeningChanged(payload.Active)

	case "listenError":
		var payload errorMessage
		if !decode(writer, msg, &payload) {
			return
		}
		sess.ListenFailed(payload.Message)

	case "frame":
		var payload frameMessage
		if !decode(writer, msg, &payload) {
			return
		}
		sess.PushFrame(payload.Image, payload.ReadyState)

	case "camera":
		var payload cameraMessage
		if !decode(writer, msg, &payload) {
			return
		}
		if payload.Status == "error" || payload.Status == "stopped" {
			sess.CameraFailed(payload.Message)
		}

	case "audio":
		var payload audioMessage
		if !decode(writer, msg, &payload) {
			return
		}
		sess.PushAudio(payload.AudioData, payload.Format, payload.IsFinal)

	case "ping":
		// Keepalive from clients that cannot send control frames.

	default:
		writer.sendError("unsupported message type: " + msg.Type)
	}
}

func decode(writer *connWriter, msg *inboundMessage, dst any) bool {
	if len(msg.Data) == 0 {
		writer.sendError(msg.Type + " requires data")
		return false
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		writer.sendError("invalid " + msg.Type + " payload")
		return false
	}
	return true
}

// pingLoop keeps idle connections alive.
func (h *Handler) pingLoop(ctx context.Context, writer *connWriter) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}
