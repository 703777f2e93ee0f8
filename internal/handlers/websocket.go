package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"success": false,
		"error":   "WebSocket upgrade required",
	})
}

// WebSocketHandler attaches an engine session to an upgraded
// connection and blocks until it closes.
func (h *Handler) WebSocketHandler(c *websocket.Conn) {
	userID := c.Locals("userID").(string)

	session := h.Hub.NewSession(userID)
	h.Hub.Serve(session, c)
}

// GetWebSocketStats returns connection statistics
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"connectedSessions": h.Hub.ConnectedCount(),
		},
	})
}
