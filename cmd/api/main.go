package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatsync/internal/adapter/api"
	"chatsync/internal/adapter/api/handler"
	apimiddleware "chatsync/internal/adapter/api/middleware"
	"chatsync/internal/adapter/api/router"
	"chatsync/internal/adapter/repository"
	domainrepo "chatsync/internal/domain/repository"
	"chatsync/internal/domain/service"
	"chatsync/internal/infrastructure/firebase"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/infrastructure/storage"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger.Init(cfg.IsDevelopment())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		chatRepo    domainrepo.ChatRepository
		attachments domainrepo.AttachmentRepository
		blobStore   service.BlobStore
		verifier    firebase.TokenVerifier
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory store; data is lost on restart and any token is accepted as a uid")
		chatRepo = repository.NewMemoryChatRepository()
		attachments = repository.NewMemoryAttachmentRepository()
		blobStore = storage.NewMemoryStorageClient()
		verifier = firebase.DevTokenVerifier{}

	default:
		clients, err := firebase.NewClients(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize Firebase: %v", err)
			os.Exit(1)
		}
		defer clients.Close()

		gcs, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, clients.Option)
		if err != nil {
			logger.Error("Failed to initialize Cloud Storage: %v", err)
			os.Exit(1)
		}

		chatRepo = repository.NewFirestoreChatRepository(clients.Firestore)
		attachments = repository.NewFirestoreAttachmentRepository(clients.Firestore)
		blobStore = gcs
		verifier = clients.Auth
	}
	defer blobStore.Close()

	chatSync := usecase.NewChatSync(chatRepo, blobStore, usecase.ChatSyncConfig{
		PageSize:          cfg.MessagePageSize,
		BlobDeleteWorkers: cfg.BlobDeleteWorkers,
		Attachments:       attachments,
		OnBlobDeleteError: func(ctx context.Context, chatID, messageID, path string, err error) {
			logger.With("chat_id", chatID, "message_id", messageID, "path", path).
				Errorw("orphaned attachment", "error", err)
		},
	})

	go runAttachmentJanitor(ctx, chatSync, 15*time.Minute)

	rateLimiter := ratelimit.NewRateLimiter(cfg.SendRatePerMinute)
	rateLimiter.StartCleanupRoutine()
	defer rateLimiter.Stop()

	wsManager := websocket.NewManager(chatSync, rateLimiter, cfg.MessagePageSize)
	wsManager.Start(ctx)

	handler.Setup(chatSync, blobStore, wsManager, cfg.MessagePageSize, cfg.StoreBackend)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(verifier)
	router.Setup(e, authMiddleware, rateLimiter)

	go func() {
		logger.Info("Starting server on port %s (backend %s)...", cfg.ServerPort, cfg.StoreBackend)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

func runAttachmentJanitor(ctx context.Context, chatSync *usecase.ChatSync, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := chatSync.CleanupOrphanedAttachments(ctx, 100); err != nil {
				logger.Error("Attachment cleanup failed: %v", err)
			}
		}
	}
}
