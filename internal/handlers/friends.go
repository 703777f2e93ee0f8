package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// FriendRequestBody represents friend request send body
type FriendRequestBody struct {
	ToUID    string `json:"toUid"`
	Username string `json:"username"`
}

// SendFriendRequest queues a request on the recipient's record. The
// target may be named by uid or by exact username.
func (h *Handler) SendFriendRequest(c *fiber.Ctx) error {
	var req FriendRequestBody
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

	toUID := req.ToUID
	if toUID == "" && req.Username != "" {
		target, ok, err := h.userBy(c, "username", req.Username)
		if err != nil {
			return storeError(c, err)
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "User not found",
			})
		}
		toUID = target.UID
	}
	if toUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "toUid or username is required",
		})
	}

	if err := h.Friends.SendRequest(c.Context(), sender, toUID); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// AcceptFriendRequest promotes a pending request to a friendship
func (h *Handler) AcceptFriendRequest(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Friends.Accept(c.Context(), uid, c.Params("fromUid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// DenyFriendRequest discards a pending request
func (h *Handler) DenyFriendRequest(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Friends.Deny(c.Context(), uid, c.Params("fromUid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// BlockUser blocks a user and severs the friendship
func (h *Handler) BlockUser(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Friends.Block(c.Context(), uid, c.Params("uid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// UnblockUser removes a user from the caller's block list
func (h *Handler) UnblockUser(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Friends.Unblock(c.Context(), uid, c.Params("uid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// RemoveFriend unfriends in both directions
func (h *Handler) RemoveFriend(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Friends.Remove(c.Context(), uid, c.Params("uid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// NicknameRequest represents nickname update body
type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

// SetNickname stores a private nickname for a friend
func (h *Handler) SetNickname(c *fiber.Ctx) error {
	var req NicknameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	uid := c.Locals("userID").(string)
	if err := h.Friends.SetNickname(c.Context(), uid, c.Params("uid"), req.Nickname); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ToggleFavorite flips the favorite mark for a friend
func (h *Handler) ToggleFavorite(c *fiber.Ctx) error {
	caller, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}
	if err := h.Friends.ToggleFavorite(c.Context(), caller, c.Params("uid")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
