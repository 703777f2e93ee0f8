package handlers

import (
	"github.com/gofiber/fiber/v2"

	"kirimin/server/internal/chat"
)

// SendMessageRequest represents message send request body
type SendMessageRequest struct {
	Text        string `json:"text"`
	Image       string `json:"image"`
	ImageWidth  int64  `json:"imageWidth"`
	ImageHeight int64  `json:"imageHeight"`
	ReplyToID   string `json:"replyToId"`
}

// SendMessage appends a message to a conversation
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	sender, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}
	conv, err := h.conversation(c, c.Params("chatId"), sender.UID)
	if err != nil {
		return serviceError(c, err)
	}

	id, err := h.Chat.Send(c.Context(), conv, sender, chat.SendInput{
		Text:        req.Text,
		Image:       req.Image,
		ImageWidth:  req.ImageWidth,
		ImageHeight: req.ImageHeight,
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"id": id},
	})
}

// SendQuickEmoji sends the conversation's configured emoji
func (h *Handler) SendQuickEmoji(c *fiber.Ctx) error {
	sender, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}
	conv, err := h.conversation(c, c.Params("chatId"), sender.UID)
	if err != nil {
		return serviceError(c, err)
	}

	id, err := h.Chat.SendQuickEmoji(c.Context(), conv, sender)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"id": id},
	})
}

// EditMessageRequest represents message edit request body
type EditMessageRequest struct {
	Text string `json:"text"`
}

// EditMessage rewrites the caller's own text message
func (h *Handler) EditMessage(c *fiber.Ctx) error {
	var req EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	uid := c.Locals("userID").(string)
	if err := h.Chat.Edit(c.Context(), c.Params("chatId"), c.Params("messageId"), uid, req.Text); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// DeleteMessage removes the caller's own message
func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Chat.DeleteMessage(c.Context(), c.Params("chatId"), c.Params("messageId"), uid); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// ReactRequest represents reaction toggle request body
type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// ReactToMessage toggles the caller's reaction on a message
func (h *Handler) ReactToMessage(c *fiber.Ctx) error {
	var req ReactRequest
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Emoji is required",
		})
	}

	uid := c.Locals("userID").(string)
	if err := h.Chat.React(c.Context(), c.Params("chatId"), c.Params("messageId"), uid, req.Emoji); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetSettings returns the conversation theme
func (h *Handler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.Chat.Settings(c.Context(), c.Params("chatId"))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// UpdateSettingsRequest represents settings update request body
type UpdateSettingsRequest struct {
	Color string `json:"color"`
	Emoji string `json:"emoji"`
}

// UpdateSettings merges theme fields into the conversation settings
func (h *Handler) UpdateSettings(c *fiber.Ctx) error {
	var req UpdateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	if err := h.Chat.UpdateSettings(c.Context(), c.Params("chatId"), req.Color, req.Emoji); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}
