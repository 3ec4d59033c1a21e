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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/bingo-api/internal/config"
	"github.com/yourusername/bingo-api/internal/game"
	"github.com/yourusername/bingo-api/internal/handler"
	"github.com/yourusername/bingo-api/internal/middleware"
	pgRepo "github.com/yourusername/bingo-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/bingo-api/internal/repository/redis"
	"github.com/yourusername/bingo-api/internal/service"
	ws "github.com/yourusername/bingo-api/internal/websocket"
	"github.com/yourusername/bingo-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	questionRepo := pgRepo.NewQuestionRepo(db)
	ledgerRepo := pgRepo.NewLedgerRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Инициализируем WebSocket-подсистему
	wsHub := ws.NewHub(16)
	wsManager := ws.NewManager(wsHub)

	// Межузловой релей рассылок через Redis Pub/Sub
	wsRelay := ws.NewPubSubRelay(redisClient, wsHub)
	wsManager.SetRelay(wsRelay)
	wsRelay.Start()

	// Инициализируем сервисы
	questionService := service.NewQuestionService(questionRepo, cacheRepo)
	settlementService := service.NewSettlementService(redisClient, cacheRepo, cfg.Game.SettlementChannel)

	// Конфигурация движка из файла конфигурации
	gameConfig := game.DefaultConfig()
	if cfg.Game.DefaultTimeLimitSec > 0 {
		gameConfig.DefaultTimeLimitSec = cfg.Game.DefaultTimeLimitSec
	}
	if cfg.Game.GracePeriodSec > 0 {
		gameConfig.GracePeriod = time.Duration(cfg.Game.GracePeriodSec) * time.Second
	}
	if cfg.Game.MaxPlayersPerRoom > 0 {
		gameConfig.MaxPlayersPerRoom = cfg.Game.MaxPlayersPerRoom
	}

	// Игровой движок собирается в два шага: RoomService реализует проверку
	// оплаты поверх леджера, а сам является зависимостью движка
	var roomService *service.RoomService
	deps := &game.Dependencies{
		Questions:   questionService,
		Broadcaster: wsManager,
		Settlement:  settlementService,
		Payments: game.PaymentCheckerFunc(func(ctx context.Context, roomID, playerID string) (bool, error) {
			return roomService.IsPaid(ctx, roomID, playerID)
		}),
	}
	engine := game.NewEngine(gameConfig, deps)
	roomService = service.NewRoomService(engine, ledgerRepo, cacheRepo)

	// Отключившиеся сокеты отмечаются в трекере сессий движка
	wsHub.SetDisconnectHandler(func(roomID, playerID, connectionID string) {
		engine.Sessions().MarkDisconnected(roomID, playerID, connectionID)
	})

	// Уборщик заброшенных комнат
	cleanupService := service.NewCleanupService(
		engine,
		time.Duration(cfg.Game.CleanupIntervalMin)*time.Minute,
		time.Duration(cfg.Game.RoomIdleTTLMin)*time.Minute,
	)
	cleanupService.Start()

	// Инициализируем обработчики
	roomHandler := handler.NewRoomHandler(roomService)
	questionHandler := handler.NewQuestionHandler(questionService)
	wsHandler := handler.NewWSHandler(wsHub, wsManager, roomService)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:8000", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	api.Use(rateLimiter.LimitByIP(middleware.DefaultAPIRateLimitConfig()))
	{
		// Комнаты
		rooms := api.Group("/rooms")
		{
			rooms.POST("", rateLimiter.Limit(middleware.RoomCreateRateLimitConfig()), roomHandler.CreateRoom)

			roomWithID := rooms.Group("/:room_id")
			{
				roomWithID.GET("", roomHandler.GetRoom)
				roomWithID.DELETE("", roomHandler.DeleteRoom)
				roomWithID.POST("/entry-fee", roomHandler.RecordEntryFee)
				roomWithID.POST("/extras", roomHandler.PurchaseExtra)
				roomWithID.GET("/ledger", roomHandler.GetRoomLedger)
				roomWithID.GET("/participants", roomHandler.GetParticipants)
			}
		}

		// Банк вопросов
		questions := api.Group("/questions")
		{
			questions.POST("", questionHandler.CreateQuestion)
			questions.GET("/pool", questionHandler.GetPoolStats)
			questions.POST("/import", rateLimiter.Limit(middleware.ImportRateLimitConfig()), questionHandler.ImportQuestions)
			questionID := middleware.ExtractUintParam("id", "questionID")
			questions.GET("/:id", questionID, questionHandler.GetQuestion)
			questions.DELETE("/:id", questionID, questionHandler.DeleteQuestion)
		}

		// Метрики WebSocket-подсистемы и здоровье сервиса
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":       "ok",
				"active_rooms": engine.Store().Len(),
			})
		})
		api.GET("/ws-metrics", func(c *gin.Context) {
			c.JSON(http.StatusOK, wsManager.GetMetrics())
		})
	}

	// WebSocket маршрут
	router.GET("/ws", wsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// Ждем сигнал остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем фоновые подсистемы
	cleanupService.Stop()
	wsRelay.Stop()
	engine.Shutdown()

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
