package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"kirimin/server/internal/stories"
)

// PublishStoryRequest represents story publish body
type PublishStoryRequest struct {
	Image     string `json:"image"`
	MediaType string `json:"mediaType"`
}

// PublishStory writes a new story with the author snapshot frozen in
func (h *Handler) PublishStory(c *fiber.Ctx) error {
	var req PublishStoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	author, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}

	id, err := h.Stories.Publish(c.Context(), author, req.Image, req.MediaType)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"id": id},
	})
}

// DeleteStory removes the caller's own story
func (h *Handler) DeleteStory(c *fiber.Ctx) error {
	uid := c.Locals("userID").(string)
	if err := h.Stories.Delete(c.Context(), uid, c.Params("storyId")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// GetStories returns the caller's visible stories grouped by author
func (h *Handler) GetStories(c *fiber.Ctx) error {
	viewer, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}

	recs, err := h.St.Query(c.Context(), h.Stories.VisibleQuery(viewer, time.Now()))
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stories.BuildGroups(viewer.UID, recs),
	})
}

// GetStoryGallery returns the wider-window story feed used by the
// media gallery screen
func (h *Handler) GetStoryGallery(c *fiber.Ctx) error {
	viewer, err := h.currentUser(c)
	if err != nil {
		return storeError(c, err)
	}

	recs, err := h.St.Query(c.Context(), h.Stories.GalleryQuery(viewer, time.Now()))
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stories.BuildGroups(viewer.UID, recs),
	})
}
