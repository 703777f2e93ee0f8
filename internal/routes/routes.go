package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kirimin/server/internal/handlers"
	"kirimin/server/internal/middleware"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler) {
	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Kirimin API is running",
		})
	})

	// Prometheus metrics (public)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Auth routes (public)
	auth := api.Group("/auth")
	auth.Post("/register", middleware.StrictRateLimiter(), h.Register)
	auth.Post("/login", middleware.StrictRateLimiter(), h.Login)
	auth.Post("/logout", middleware.AuthMiddleware, h.Logout)
	auth.Get("/me", middleware.AuthMiddleware, h.GetMe)

	// Friend routes (protected)
	friends := api.Group("/friends", middleware.AuthMiddleware, middleware.ModerateRateLimiter())
	friends.Post("/requests", h.SendFriendRequest)
	friends.Post("/requests/:fromUid/accept", h.AcceptFriendRequest)
	friends.Post("/requests/:fromUid/deny", h.DenyFriendRequest)
	friends.Post("/:uid/block", h.BlockUser)
	friends.Post("/:uid/unblock", h.UnblockUser)
	friends.Delete("/:uid", h.RemoveFriend)
	friends.Put("/:uid/nickname", h.SetNickname)
	friends.Post("/:uid/favorite", h.ToggleFavorite)

	// Chat routes (protected)
	chats := api.Group("/chats", middleware.AuthMiddleware, middleware.ModerateRateLimiter())
	chats.Post("/:chatId/messages", h.SendMessage)
	chats.Post("/:chatId/quick-emoji", h.SendQuickEmoji)
	chats.Put("/:chatId/messages/:messageId", h.EditMessage)
	chats.Delete("/:chatId/messages/:messageId", h.DeleteMessage)
	chats.Post("/:chatId/messages/:messageId/reactions", h.ReactToMessage)
	chats.Get("/:chatId/settings", h.GetSettings)
	chats.Put("/:chatId/settings", h.UpdateSettings)

	// Group routes (protected)
	groups := api.Group("/groups", middleware.AuthMiddleware, middleware.ModerateRateLimiter())
	groups.Post("/", h.CreateGroup)
	groups.Post("/:groupId/members", h.AddGroupMember)
	groups.Delete("/:groupId/members/:uid", h.RemoveGroupMember)
	groups.Post("/:groupId/leave", h.LeaveGroup)
	groups.Put("/:groupId", h.RenameGroup)

	// Story routes (protected)
	stories := api.Group("/stories", middleware.AuthMiddleware)
	stories.Get("/", middleware.RelaxedRateLimiter(), h.GetStories)
	stories.Get("/gallery", middleware.RelaxedRateLimiter(), h.GetStoryGallery)
	stories.Post("/", middleware.ModerateRateLimiter(), h.PublishStory)
	stories.Delete("/:storyId", middleware.ModerateRateLimiter(), h.DeleteStory)

	// WebSocket route (protected)
	api.Get("/ws", middleware.AuthMiddleware, handlers.WebSocketUpgrade, websocket.New(h.WebSocketHandler))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", middleware.AuthMiddleware, h.GetWebSocketStats)
}
