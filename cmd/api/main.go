package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/platform/otel"
	"github.com/rajivgeraev/bookswap-api/internal/services/auth"
	"github.com/rajivgeraev/bookswap-api/internal/services/books"
	"github.com/rajivgeraev/bookswap-api/internal/services/chat"
	"github.com/rajivgeraev/bookswap-api/internal/services/favorite"
	"github.com/rajivgeraev/bookswap-api/internal/services/swap"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
	"github.com/rajivgeraev/bookswap-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	shutdownTracing, err := otel.Setup(ctx, "bookswap-api", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("❌ Ошибка настройки трассировки: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("⚠️ Ошибка выгрузки трассировок: %v", err)
		}
	}()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("❌ Ошибка применения схемы: %v", err)
	}

	// Хранилища
	userStore := db.NewUserStore(db.Pool)
	bookStore := db.NewBookStore(db.Pool)
	chatStore := db.NewChatStore(db.Pool)
	swapStore := db.NewSwapStore(db.Pool)

	jwtService := utils.NewJWTService(cfg.JWTSecret)
	wsManager := websocket.NewManager()

	dispatcher := swap.NewDispatcher(swapStore, bookStore, chatStore,
		swap.WithPusher(wsManager),
		swap.WithDispatcherLogger(slogger.With("component", "outbox")),
		swap.WithRetryPolicy(cfg.OutboxConfig.MaxAttempts, cfg.OutboxConfig.PollInterval, cfg.OutboxConfig.BatchSize),
	)
	swapService := swap.NewService(swapStore, bookStore, userStore, dispatcher,
		swap.WithLogger(slogger.With("component", "swap")),
		swap.WithMarkOfferedBooksSold(cfg.SwapConfig.MarkOfferedBooksSold),
	)

	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Printf("⚠️ Outbox остановлен с ошибкой: %v", err)
		}
	}()

	// WebSocket сервер на отдельном порту
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.Handler(wsManager, jwtService))
	wsServer := &http.Server{
		Addr:              ":" + cfg.WSPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("✅ WebSocket сервер запущен на порту %s", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Ошибка WebSocket сервера: %v", err)
		}
	}()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "BookSwap API",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(jwtService)

	// Регистрируем маршруты
	auth.NewAuthService(cfg, jwtService, userStore).SetupRoutes(app, authMiddleware)
	books.NewBookService(bookStore, books.NewUploadSigner(cfg.CloudinaryConfig)).SetupRoutes(app, authMiddleware)
	chat.NewChatService(chatStore, userStore, wsManager).SetupRoutes(app, authMiddleware)
	favorite.NewFavoriteService(db.NewFavoriteStore(db.Pool)).SetupRoutes(app, authMiddleware)
	swap.NewHandler(swapService).SetupRoutes(app, authMiddleware)

	go func() {
		<-ctx.Done()
		log.Println("⏳ Останавливаем сервер...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		wsManager.Shutdown()
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️ Ошибка остановки WebSocket сервера: %v", err)
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("⚠️ Ошибка остановки HTTP сервера: %v", err)
		}
	}()

	log.Printf("✅ BookSwap API запущен на порту %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Ошибка HTTP сервера: %v", err)
	}
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
