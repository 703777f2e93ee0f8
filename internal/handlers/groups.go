package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
)

// CreateGroupRequest represents group creation body
type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// CreateGroup creates a group conversation with the caller as admin
func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Group name is required",
		})
	}

	uid := c.Locals("userID").(string)
	members := []string{uid}
	for _, m := range req.Members {
		if m != uid && m != "" {
			members = append(members, m)
		}
	}

	conv := models.Conversation{
		ID:        uuid.NewString(),
		IsGroup:   true,
		GroupName: req.Name,
		Members:   members,
		Admins:    []string{uid},
		CreatedBy: uid,
	}
	fields := conv.Fields()
	fields["createdAt"] = store.ServerTimestamp()
	if err := h.St.WriteMerge(c.Context(), models.ChatPath(conv.ID), fields); err != nil {
		return storeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"id": conv.ID},
	})
}

// group loads a group record and checks the caller is a member.
func (h *Handler) group(c *fiber.Ctx, groupID, uid string) (models.Conversation, error) {
	rec, err := h.St.Get(c.Context(), models.ChatPath(groupID))
	if err != nil {
		return models.Conversation{}, err
	}
	conv := models.ConversationFromRecord(rec)
	if !conv.IsGroup || !conv.HasMember(uid) {
		return models.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

// AddMemberRequest represents member addition body
type AddMemberRequest struct {
	UID string `json:"uid"`
}

// AddGroupMember adds a member; admins only
func (h *Handler) AddGroupMember(c *fiber.Ctx) error {
	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil || req.UID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "uid is required",
		})
	}

	uid := c.Locals("userID").(string)
	conv, err := h.group(c, c.Params("groupId"), uid)
	if err != nil {
		return serviceError(c, err)
	}
	if !conv.IsAdmin(uid) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Admins only",
		})
	}

	if err := h.St.ArrayUnion(c.Context(), models.ChatPath(conv.ID), "members", req.UID); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// RemoveGroupMember removes a member; admins only, and never the
// group's creator
func (h *Handler) RemoveGroupMember(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	target := c.Params("uid")
	conv, err := h.group(c, c.Params("groupId"), uid)
	if err != nil {
		return serviceError(c, err)
	}
	if !conv.IsAdmin(uid) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Admins only",
		})
	}
	if target == conv.CreatedBy {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Cannot remove the group creator",
		})
	}

	if err := h.St.BatchWrite(c.Context(), []store.Op{
		{Kind: store.OpArrayRemove, Path: models.ChatPath(conv.ID), Field: "members", Value: target},
		{Kind: store.OpArrayRemove, Path: models.ChatPath(conv.ID), Field: "admins", Value: target},
	}); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// LeaveGroup removes the caller from the group
func (h *Handler) LeaveGroup(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	conv, err := h.group(c, c.Params("groupId"), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// already gone; leaving twice is fine
			return c.JSON(fiber.Map{"success": true})
		}
		return serviceError(c, err)
	}

	if err := h.St.BatchWrite(c.Context(), []store.Op{
		{Kind: store.OpArrayRemove, Path: models.ChatPath(conv.ID), Field: "members", Value: uid},
		{Kind: store.OpArrayRemove, Path: models.ChatPath(conv.ID), Field: "admins", Value: uid},
	}); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// RenameGroupRequest represents group rename body
type RenameGroupRequest struct {
	Name string `json:"name"`
}

// RenameGroup changes the group name; admins only
func (h *Handler) RenameGroup(c *fiber.Ctx) error {
	var req RenameGroupRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "name is required",
		})
	}

	uid := c.Locals("userID").(string)
	conv, err := h.group(c, c.Params("groupId"), uid)
	if err != nil {
		return serviceError(c, err)
	}
	if !conv.IsAdmin(uid) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Admins only",
		})
	}

	if err := h.St.WriteMerge(c.Context(), models.ChatPath(conv.ID), map[string]any{"groupName": req.Name}); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
