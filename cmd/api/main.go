package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/facechat/backend/internal/config"
	"github.com/zhouzirui/facechat/backend/internal/handler"
	"github.com/zhouzirui/facechat/backend/internal/metrics"
	"github.com/zhouzirui/facechat/backend/internal/service/ai"
	"github.com/zhouzirui/facechat/backend/internal/service/chat"
	"github.com/zhouzirui/facechat/backend/internal/service/conversation"
	"github.com/zhouzirui/facechat/backend/internal/service/face"
	"github.com/zhouzirui/facechat/backend/internal/service/face/yunet"
	sessionsvc "github.com/zhouzirui/facechat/backend/internal/service/session"
	"github.com/zhouzirui/facechat/backend/internal/service/speech"
	"github.com/zhouzirui/facechat/backend/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	chatService := chat.NewService()

	var generator conversation.Generator = ai.Disabled{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - check AI_PROVIDER and the matching model variables")
		} else {
			generator = aiService
			log.Printf("AI service initialized (provider=%s model=%s)", cfg.AI.Provider, cfg.AI.Model)
		}
	} else {
		log.Println("AI credentials not configured, conversation turns will be logged and dropped")
	}

	speechService := speech.NewService(cfg.Speech)
	if speechService.Enabled() {
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("speech credentials not configured, using browser recognition and synthesis")
	}

	faceLoader := yunet.Loader(cfg.Face.ModelPath, face.DetectOptions{
		InputSize:      cfg.Face.InputSize,
		ScoreThreshold: cfg.Face.ScoreThreshold,
	})

	sessions := sessionsvc.NewManager()
	go sessions.RunEviction(ctx, chatService, cfg.Server.SessionTTL, time.Minute)
	router := handler.NewRouter(handler.Services{
		Chat:     chatService,
		Sessions: sessions,
		SessionDeps: sessionsvc.Deps{
			Generator:   generator,
			Log:         chatService,
			Synthesizer: speechService,
			Transcriber: speechService,
			FaceLoader:  faceLoader,
			Config:      cfg,
		},
		Speech:   speechService,
		Registry: metrics.NewRegistry(),
		Static:   web.Static(),
	})

	startServer(ctx, cfg.Server, router)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessions.CloseAll(closeCtx)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("facechat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runServer shuts down gracefully when ctx is cancelled. Hijacked WebSocket
// connections are not tracked by Shutdown; the caller closes them through
// Manager.CloseAll.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
