package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/zhouzirui/facechat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/facechat/backend/internal/service/chat"
	"github.com/zhouzirui/facechat/backend/internal/service/session"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func TestCreateSession(t *testing.T) {
	r, chatSvc := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var created chatmodel.Session
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a session id")
	}
	if _, err := chatSvc.GetSession(context.Background(), created.ID); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
}

func TestListMessagesInOrder(t *testing.T) {
	r, chatSvc := setupRouter()
	created, _ := chatSvc.CreateSession(context.Background())
	_, err := chatSvc.Append(context.Background(), created.ID,
		chatmodel.UserMessage(created.ID, "hi"),
		chatmodel.ReplyMessage(created.ID, "Hello: there"),
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+created.ID+"/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []session.MessageView `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Speaker != "You" || body.Messages[1].Speaker != "GPT" || body.Messages[1].Text != "Hello: there" {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	r, _ := setupRouter()

	for _, path := range []string{"/session/missing", "/session/missing/messages"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.Code)
		}
	}
}
