package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"     // optional .env loading for local development
	"github.com/labstack/echo/v4"  // Echo web framework
	"github.com/redis/go-redis/v9" // shared ephemeral store client

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/database"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/middleware"
	"github.com/iliyamo/ticket-rush/internal/queue"
	"github.com/iliyamo/ticket-rush/internal/repository"
	"github.com/iliyamo/ticket-rush/internal/router"
	"github.com/iliyamo/ticket-rush/internal/waitingroom"
	"github.com/iliyamo/ticket-rush/internal/worker"
)

func main() {
	// .env is a convenience for local runs; a missing file is not an error.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Redis is degradable: nil disables rate limiting and caching, and the
	// waiting room reports unavailable instead of crashing the process.
	var rdb *redis.Client = config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; waiting room degraded, rate limiting and caching disabled")
	}

	eventRepo := repository.NewEventRepo(db)
	tierRepo := repository.NewTierRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	checkoutRepo := repository.NewCheckoutRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	ticketRepo := repository.NewTicketRepo(db)

	room := waitingroom.New(rdb, waitingroom.Options{
		TokenTTL:     cfg.QueueTokenTTL,
		AdmissionTTL: cfg.AdmissionTTL,
		WaveSize:     cfg.WaveSize,
		WaveInterval: cfg.WaveInterval,
	})

	// Order events reuse one broker channel for the process lifetime.
	emitter := queue.NewEmitter("")
	defer emitter.Close()

	checkout := handler.NewCheckoutHandler(checkoutRepo, reservationRepo, tierRepo,
		orderRepo, ticketRepo, cfg.ReservationTTL, cfg.QRSecret)
	checkout.Publish = emitter.Publish

	handlers := router.Handlers{
		Health:      handler.NewHealthHandler(db, rdb),
		WaitingRoom: handler.NewWaitingRoomHandler(eventRepo, room),
		Reservation: handler.NewReservationHandler(eventRepo, tierRepo, reservationRepo, room,
			cfg.ReservationTTL, cfg.EventPurchaseLimit),
		Checkout: checkout,
		Tickets:  handler.NewTicketHandler(ticketRepo),
		Public:   handler.NewPublicHandler(eventRepo, tierRepo),
		Admin:    handler.NewAdminHandler(eventRepo, tierRepo, room),
	}

	// Background recovery: expire stale holds, repair missing tickets.
	recovery := worker.NewRecovery(db, reservationRepo, orderRepo, ticketRepo,
		cfg.QRSecret, cfg.RecoveryInterval)
	go recovery.Run(context.Background())

	e := echo.New()
	e.HideBanner = true

	// Global limiter wraps everything, including admin, as a backstop.
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	router.RegisterRoutes(e, handlers, rdb,
		config.LoadCacheConfig(), config.LoadRouteLimits(), cfg.AdminJWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
