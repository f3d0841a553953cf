// Package api is the HTTP and websocket boundary of the chat.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/identity"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/rooms"
	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config configures the HTTP server.
type Config struct {
	Port           string
	AllowedOrigins string
	// CreateRoomLimit is the number of room creations allowed per client IP
	// per minute. Zero disables the limit.
	CreateRoomLimit int
	Identity        identity.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Port:            "3000",
		AllowedOrigins:  "*",
		CreateRoomLimit: 30,
	}
}

// APIModule serves the lobby REST API and the room websockets.
type APIModule struct {
	config       Config
	app          *fiber.App
	rooms        *rooms.Module
	roomsAdapter rooms.RoomsPort
	statsAdapter realtime.StatsPort
	hub          *broadcast.Hub
	observer     *identity.Observer
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule. roomsModule hosts the websocket
// sessions; lobby calls go through the rooms service container.
func NewModule(config Config, roomsModule *rooms.Module) *APIModule {
	return &APIModule{
		config:   config,
		rooms:    roomsModule,
		observer: identity.NewObserver(config.Identity),
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"rooms", "realtime"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "rooms":
		m.roomsAdapter = rooms.NewRoomsAdapter(container)
	case "realtime":
		m.statsAdapter = realtime.NewStatsAdapter(container)
	}
}

// SetHub sets the broadcast hub (called from main.go).
func (m *APIModule) SetHub(hub *broadcast.Hub) {
	m.hub = hub
}

// Start builds the Fiber app and starts listening.
func (m *APIModule) Start(_ context.Context) error {
	if m.roomsAdapter == nil {
		return fmt.Errorf("rooms adapter dependency not set")
	}
	if m.rooms == nil {
		return fmt.Errorf("rooms module not set")
	}
	if m.hub == nil {
		return fmt.Errorf("broadcast hub dependency not set")
	}

	m.app = m.newApp()

	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	log.Printf("[api] HTTP server started on :%s", m.config.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	return m.app.ShutdownWithContext(ctx)
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port":     m.config.Port,
		"identity": m.observer.Enabled(),
	}
	if m.hub != nil {
		details["feed_clients"] = m.hub.ClientCount()
	}
	if m.rooms != nil {
		details["sessions"] = m.rooms.SessionCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// newApp creates the Fiber app with middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		BodyLimit:             8 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.config.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(m.observer.Middleware())

	m.setupRoutes(app)
	return app
}

// createRoomLimiter throttles room creation per client IP.
func (m *APIModule) createRoomLimiter() fiber.Handler {
	if m.config.CreateRoomLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        m.config.CreateRoomLimit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "rate_limited",
				Message: "Too many rooms created. Please try again later.",
			})
		},
	})
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		log.Printf("[api] %s %s failed: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
