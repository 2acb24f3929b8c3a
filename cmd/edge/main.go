package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"agrolink/internal/adapter/api"
	"agrolink/internal/adapter/api/handler"
	"agrolink/internal/adapter/api/router"
	"agrolink/internal/adapter/backend"
	"agrolink/internal/adapter/repository"
	"agrolink/internal/infrastructure/push"
	"agrolink/internal/infrastructure/websocket"
	"agrolink/internal/usecase"
	"agrolink/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	userID := os.Getenv("EDGE_USER_ID")
	if userID == "" {
		log.Fatal("EDGE_USER_ID is required: the edge process serves one signed-in user")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache, err := repository.NewSQLiteConversationCache(cfg.CacheDBPath)
	if err != nil {
		log.Fatalf("Failed to open conversation cache: %v", err)
	}
	defer cache.Close()

	backendClient := backend.NewClient(cfg.BackendBaseURL, cfg.BackendToken)
	listener := push.NewListener(cfg.PushWebSocketURL, cfg.BackendToken)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	recentUseCase := usecase.NewRecentConversationsUseCase(
		cache,
		backendClient,
		listener,
		wsManager,
		time.Duration(cfg.RefreshIntervalSeconds)*time.Second,
	)
	defer recentUseCase.Close()

	selectionUseCase := usecase.NewSelectionUseCase(recentUseCase, backendClient)
	sendUseCase := usecase.NewSendUseCase(recentUseCase, backendClient)

	if err := recentUseCase.Initialize(ctx, userID); err != nil {
		log.Fatalf("Failed to initialize conversation controller: %v", err)
	}

	go func() {
		if err := selectionUseCase.LoadDirectory(ctx); err != nil {
			log.Printf("User directory load failed, deep links will resolve on retry: %v", err)
		}
	}()

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	conversationHandler := handler.NewConversationHandler(recentUseCase, selectionUseCase, sendUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	router.SetupConversationRouter(e, conversationHandler)
	router.SetupWebSocketRouter(e, wsHandler)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
		e.Close()
	}()

	log.Printf("Starting conversation edge on port %s for user %s...", cfg.ServerPort, userID)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
