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

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/services/agreement"
	"github.com/rajivgeraev/barterkita-api/internal/services/auth"
	"github.com/rajivgeraev/barterkita-api/internal/services/chat"
	"github.com/rajivgeraev/barterkita-api/internal/services/cloudinary"
	"github.com/rajivgeraev/barterkita-api/internal/services/listing"
	"github.com/rajivgeraev/barterkita-api/internal/services/negotiation"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/store/memory"
	"github.com/rajivgeraev/barterkita-api/internal/store/postgres"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	appLogger := logging.New(os.Stdout, cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := realtime.NewBroker()

	// Инициализируем хранилище
	var st store.Store
	switch cfg.Storage {
	case config.StorageMemory:
		appLogger.Warn(ctx, "используется хранилище в памяти, данные не сохраняются между запусками")
		st = memory.New()
	default:
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				log.Fatalf("❌ Ошибка при применении миграций: %v", err)
			}
		}
		pool, err := db.InitDB(ctx, cfg)
		if err != nil {
			log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
		}
		defer pool.Close()
		st = postgres.New(pool)

		// Изменения других экземпляров приходят через LISTEN/NOTIFY
		listener := realtime.NewPQListener(cfg.DatabaseURL, appLogger)
		relay := realtime.NewRelay(listener, broker, cfg.InstanceID, appLogger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error(ctx, "ретранслятор уведомлений остановлен", "error", err)
			}
		}()
	}

	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)

	// Создаём сервисы
	authService := auth.NewAuthService(cfg, st, jwtService, appLogger)
	cloudinaryService := cloudinary.NewCloudinaryService(cfg, jwtService, appLogger)
	listingService := listing.NewListingService(cfg, st, broker, jwtService, appLogger)
	chatService := chat.NewChatService(cfg, st, broker, jwtService, appLogger)
	negotiationService := negotiation.NewNegotiationService(cfg, st, broker, chatService, jwtService, appLogger)
	resolver := agreement.NewResolver(cfg, st, broker, jwtService, appLogger)

	chatService.SetResolver(resolver)
	unsubscribe := resolver.Start(broker)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "BarterKita API",
		ErrorHandler: middleware.ErrorHandler(appLogger),
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "instance": cfg.InstanceID})
	})

	// Публичные маршруты регистрируются до защищенных групп
	authService.SetupPublicRoutes(app)
	listingService.SetupPublicRoutes(app)

	authService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)
	listingService.SetupRoutes(app)
	negotiationService.SetupRoutes(app)
	chatService.SetupRoutes(app)
	resolver.SetupRoutes(app)

	// WebSocket сервер на отдельном порту
	wsManager := realtime.NewManager(broker, jwtService, chatService, appLogger)
	chatService.SetPresence(wsManager)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsManager)
	wsServer := &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		appLogger.Info(ctx, "WebSocket сервер запущен", "addr", cfg.WSAddr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, "ошибка WebSocket сервера", "error", err)
			stop()
		}
	}()

	go func() {
		appLogger.Info(ctx, "✅ BarterKita API запущен", "addr", cfg.HTTPAddr, "storage", cfg.Storage)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			appLogger.Error(ctx, "ошибка HTTP сервера", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info(context.Background(), "останавливаем сервер")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "ошибка при остановке HTTP сервера", "error", err)
	}
	wsManager.Shutdown()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "ошибка при остановке WebSocket сервера", "error", err)
	}

	unsubscribe()
	resolver.Wait()
}
