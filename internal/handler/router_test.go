package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/zhouzirui/facechat/backend/internal/config"
	"github.com/zhouzirui/facechat/backend/internal/metrics"
	chatService "github.com/zhouzirui/facechat/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/facechat/backend/internal/service/session"
	speechService "github.com/zhouzirui/facechat/backend/internal/service/speech"
)

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, string) (string, error) { return "ok", nil }

func newTestRouter() http.Handler {
	chatSvc := chatService.NewService()
	return NewRouter(Services{
		Chat:     chatSvc,
		Sessions: sessionService.NewManager(),
		SessionDeps: sessionService.Deps{
			Generator: nopGenerator{},
			Log:       chatSvc,
			Config:    &config.Config{Capture: config.CaptureConfig{Language: "en-US"}},
		},
		Speech:   speechService.NewService(config.SpeechConfig{}),
		Registry: metrics.NewRegistry(),
		Static: fstest.MapFS{
			"index.html": {Data: []byte("<html>facechat</html>")},
		},
	})
}

func TestRoutes(t *testing.T) {
	router := newTestRouter()

	cases := []struct {
		method string
		path   string
		want   int
		body   string
	}{
		{http.MethodPost, "/api/session", http.StatusCreated, `"id"`},
		{http.MethodGet, "/api/session/nope/messages", http.StatusNotFound, "session not found"},
		{http.MethodGet, "/api/speech/health", http.StatusOK, `"disabled"`},
		{http.MethodGet, "/metrics", http.StatusOK, "facechat_sessions_active"},
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/", http.StatusOK, "facechat"},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
			if !strings.Contains(resp.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %q", tc.body, resp.Body.String())
			}
		})
	}
}
