package router // package router defines how HTTP routes are registered for the API

import (
	"time"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/middleware"
)

// Handlers bundles every handler the router wires up.
type Handlers struct {
	Health      *handler.HealthHandler
	WaitingRoom *handler.WaitingRoomHandler
	Reservation *handler.ReservationHandler
	Checkout    *handler.CheckoutHandler
	Tickets     *handler.TicketHandler
	Public      *handler.PublicHandler
	Admin       *handler.AdminHandler
}

// RegisterRoutes registers every route of the service on the provided
// Echo instance.  The layering is:
//
//	/healthz, /readyz           – unauthenticated probes
//	/events…                    – public reads behind the response cache
//	buyer routes                – require X-User-Id; sale-flow rate limits
//	/admin…                     – bearer-token guarded operator surface
func RegisterRoutes(e *echo.Echo, h Handlers, rdb *redis.Client,
	cacheCfg config.CacheConfig, limits config.RouteLimits, adminSecret string) {

	// Correlation id on every request; echoed on 5xx envelopes and log lines.
	e.Use(echomw.RequestID())

	e.GET("/healthz", h.Health.Live)
	e.GET("/readyz", h.Health.Ready)

	// Public browse endpoints.  Short-TTL cache absorbs availability polling.
	pub := e.Group("", middleware.NewRedisCache(cacheCfg, rdb))
	pub.GET("/events", h.Public.ListEvents)
	pub.GET("/events/:id", h.Public.GetEvent)
	pub.GET("/events/:id/availability", h.Public.GetAvailability)

	// Buyer routes.  Identity is the opaque X-User-Id header.
	buyer := e.Group("", middleware.RequireUser())

	// Queue join is limited per IP and event so one address cannot flood a
	// single waiting room with tokens.
	joinLimit := middleware.RouteLimit(rdb, "join", limits.JoinPerMinute, time.Minute,
		func(c echo.Context) string { return c.RealIP() + ":" + c.Param("id") })
	buyer.POST("/events/:id/waiting-room/join", h.WaitingRoom.Join, joinLimit)
	buyer.GET("/events/:id/waiting-room/status", h.WaitingRoom.Status)

	buyer.POST("/events/:id/reservations", h.Reservation.Create)
	buyer.GET("/events/:id/reservations", h.Reservation.Lookup)

	perUser := func(c echo.Context) string { return middleware.UserID(c) }
	buyer.POST("/checkout/sessions", h.Checkout.CreateSession,
		middleware.RouteLimit(rdb, "checkout_session", limits.SessionPerMinute, time.Minute, perUser))
	buyer.POST("/checkout/confirm", h.Checkout.Confirm,
		middleware.RouteLimit(rdb, "checkout_confirm", limits.ConfirmPerMinute, time.Minute, perUser))

	buyer.GET("/me/tickets", h.Tickets.ListMine)

	// Operator surface.  The guard is a no-op when no secret is configured.
	admin := e.Group("/admin", middleware.AdminAuth(adminSecret))
	admin.POST("/events", h.Admin.CreateEvent)
	admin.POST("/events/:id/tiers", h.Admin.CreateTier)
	admin.POST("/events/:id/pause", h.Admin.Pause)
	admin.POST("/events/:id/resume", h.Admin.Resume)
	admin.POST("/events/:id/status", h.Admin.UpdateStatus)
	admin.GET("/events/:id/status", h.Admin.Status)
	admin.POST("/events/:id/clear", h.Admin.ClearQueue)
}
