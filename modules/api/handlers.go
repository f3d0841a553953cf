package api

import (
	"log"
	"net/url"
	"strings"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/identity"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoints
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleFeed))
	app.Get("/ws/:roomId", websocket.New(m.handleRoom))

	// REST API v1
	api := app.Group("/api/v1")
	api.Post("/rooms", m.createRoomLimiter(), m.createRoom)
	api.Post("/rooms/join", m.joinRoom)
	api.Get("/rooms/:roomId", m.getRoom)

	// Room route, registered last so it does not shadow the others.
	app.Get("/:roomId", m.getRoom)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	details := map[string]any{
		"module": "api",
	}
	if m.hub != nil {
		details["feed_clients"] = m.hub.ClientCount()
	}
	if m.rooms != nil {
		details["sessions"] = m.rooms.SessionCount()
	}
	if m.statsAdapter != nil {
		stats, err := m.statsAdapter.Stats(c.UserContext())
		if err != nil {
			details["store"] = "unavailable"
		} else {
			details["store"] = stats
		}
	}
	return c.JSON(HealthResponse{
		Status:  "healthy",
		Details: details,
	})
}

// createRoom handles POST /api/v1/rooms.
func (m *APIModule) createRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	name := strings.TrimSpace(req.Name)
	if err := domain.ValidateDisplayName(name); err != nil {
		return validationError(c, err)
	}

	room, err := m.roomsAdapter.CreateRoom(c.UserContext())
	if err != nil {
		log.Printf("[api] Failed to create room: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to create room",
		})
	}

	if user := identity.FromCtx(c); user != nil {
		log.Printf("[api] Room %s created by signed-in user %s", room.RoomID, user.ID)
	}

	return c.Status(fiber.StatusCreated).JSON(roomLink(room.RoomID, name))
}

// joinRoom handles POST /api/v1/rooms/join.
func (m *APIModule) joinRoom(c *fiber.Ctx) error {
	var req JoinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	name := strings.TrimSpace(req.Name)
	if err := domain.ValidateDisplayName(name); err != nil {
		return validationError(c, err)
	}
	roomID := strings.TrimSpace(req.RoomID)
	if err := domain.ValidateRoomID(roomID); err != nil {
		return validationError(c, err)
	}

	return c.JSON(roomLink(roomID, name))
}

// getRoom handles GET /api/v1/rooms/:roomId and the room route GET /:roomId.
func (m *APIModule) getRoom(c *fiber.Ctx) error {
	roomID, err := url.PathUnescape(c.Params("roomId"))
	if err != nil {
		return validationError(c, domain.ErrRoomIDInvalid)
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return validationError(c, err)
	}

	info, err := m.roomsAdapter.RoomInfo(c.UserContext(), roomID)
	if err != nil {
		if info != nil && info.Error != "" {
			return validationError(c, err)
		}
		log.Printf("[api] Failed to read room %s: %v", roomID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "read_failed",
			Message: "Failed to read room",
		})
	}

	resp := RoomResponse{
		RoomID:       info.RoomID,
		Link:         "/" + info.RoomID,
		Exists:       info.Exists,
		OnlineUsers:  info.OnlineUsers,
		ActiveCount:  len(info.OnlineUsers),
		Messages:     info.Messages,
		DeletionTime: info.DeletionTime,
		Remaining:    info.Remaining,
	}
	if m.hub != nil {
		resp.Watchers = m.hub.RoomClientCount(info.RoomID)
	}
	return c.JSON(resp)
}

func roomLink(roomID, name string) RoomLinkResponse {
	q := url.Values{}
	q.Set("name", name)
	return RoomLinkResponse{
		RoomID:    roomID,
		Link:      "/" + url.PathEscape(roomID),
		WebSocket: "/ws/" + url.PathEscape(roomID) + "?" + q.Encode(),
	}
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: "Invalid request body",
	})
}

func validationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}
