// Package handlers exposes the REST mutation surface. Live state flows
// over the websocket; these endpoints only write.
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"kirimin/server/internal/chat"
	"kirimin/server/internal/friends"
	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/stories"
	"kirimin/server/internal/store"
	"kirimin/server/internal/utils"
	ws "kirimin/server/internal/websocket"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	St      store.Store
	Chat    *chat.Service
	Friends *friends.Service
	Stories *stories.Service
	Hub     *ws.Hub
}

func New(st store.Store, chatSvc *chat.Service, friendsSvc *friends.Service, storiesSvc *stories.Service, hub *ws.Hub) *Handler {
	return &Handler{St: st, Chat: chatSvc, Friends: friendsSvc, Stories: storiesSvc, Hub: hub}
}

// currentUser loads the authenticated user's record.
func (h *Handler) currentUser(c *fiber.Ctx) (models.User, error) {
	uid := c.Locals("userID").(string)
	rec, err := h.St.Get(c.Context(), models.UserPath(uid))
	if err != nil {
		return models.User{}, err
	}
	return models.UserFromRecord(rec), nil
}

// conversation resolves a conversation id for the caller: the group
// record when one exists, otherwise the implicit direct conversation
// with the peer derived from the id.
func (h *Handler) conversation(c *fiber.Ctx, convID, callerUID string) (models.Conversation, error) {
	rec, err := h.St.Get(c.Context(), models.ChatPath(convID))
	if err == nil {
		conv := models.ConversationFromRecord(rec)
		if conv.IsGroup {
			return conv, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Conversation{}, err
	}

	peer, err := utils.DirectConversationPeer(convID, callerUID)
	if err != nil {
		return models.Conversation{}, err
	}
	return models.Conversation{ID: convID, PeerUID: peer}, nil
}

// serviceError maps domain errors onto HTTP statuses.
func serviceError(c *fiber.Ctx, err error) error {
	var status int
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, chat.ErrNotSender),
		errors.Is(err, chat.ErrBlocked),
		errors.Is(err, chat.ErrNotMember),
		errors.Is(err, friends.ErrBlocked),
		errors.Is(err, stories.ErrNotAuthor):
		status = fiber.StatusForbidden
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNotEditable),
		errors.Is(err, friends.ErrSelf),
		errors.Is(err, friends.ErrAlreadyFriends),
		errors.Is(err, friends.ErrNoRequest),
		errors.Is(err, stories.ErrEmptyStory),
		errors.Is(err, stories.ErrBadMedia),
		errors.Is(err, utils.ErrInvalidParticipant):
		status = fiber.StatusBadRequest
	default:
		return storeError(c, err)
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

// storeError reports an unexpected backend failure.
func storeError(c *fiber.Ctx, err error) error {
	logger.Log.Error("request_failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Storage error",
	})
}
