// Package chat implements the message mutation protocol: sending
// (including replies and quick emoji), editing, deleting, reaction
// toggling and per-conversation settings.
package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/telemetry"
)

var (
	ErrEmptyMessage = errors.New("chat: message has neither text nor image")
	ErrNotSender    = errors.New("chat: only the sender may modify a message")
	ErrNotEditable  = errors.New("chat: only text messages can be edited")
	ErrBlocked      = errors.New("chat: conversation is blocked")
	ErrNotMember    = errors.New("chat: not a participant")
)

// Service executes chat mutations against the store. DefaultColor and
// DefaultEmoji back the settings record when it is absent or partial.
type Service struct {
	st           store.Store
	DefaultColor string
	DefaultEmoji string
}

func NewService(st store.Store, defaultColor, defaultEmoji string) *Service {
	return &Service{st: st, DefaultColor: defaultColor, DefaultEmoji: defaultEmoji}
}

// SendInput carries the caller-supplied portion of a new message.
// ReplyToID, when set, names an existing message in the same
// conversation; its snapshot is captured once at send time.
type SendInput struct {
	Text        string
	Image       string
	ImageWidth  int64
	ImageHeight int64
	ReplyToID   string
}

// Send appends a message to a conversation. The id is generated here,
// createdAt is assigned by the store at commit, and the sender display
// name is frozen into the record. For direct conversations either
// side having blocked the other rejects the send.
func (s *Service) Send(ctx context.Context, conv models.Conversation, sender models.User, in SendInput) (string, error) {
	if in.Text == "" && in.Image == "" {
		return "", ErrEmptyMessage
	}
	if err := s.checkParticipant(ctx, conv, sender); err != nil {
		return "", err
	}

	msg := models.Message{
		UID:         sender.UID,
		DisplayName: sender.Username,
		Text:        in.Text,
		Image:       in.Image,
		ImageWidth:  in.ImageWidth,
		ImageHeight: in.ImageHeight,
	}
	if in.ReplyToID != "" {
		ref, err := s.replySnapshot(ctx, conv.ID, in.ReplyToID)
		if err != nil {
			return "", err
		}
		msg.ReplyTo = ref
	}

	id := uuid.NewString()
	fields := msg.Fields()
	fields["createdAt"] = store.ServerTimestamp()
	if err := s.st.WriteMerge(ctx, models.MessagePath(conv.ID, id), fields); err != nil {
		return "", err
	}
	logger.Log.Debug("message_sent", zap.String("chat", conv.ID), zap.String("id", id))
	return id, nil
}

// SendQuickEmoji sends the conversation's configured emoji as a plain
// text message.
func (s *Service) SendQuickEmoji(ctx context.Context, conv models.Conversation, sender models.User) (string, error) {
	settings, err := s.Settings(ctx, conv.ID)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, conv, sender, SendInput{Text: settings.Emoji})
}

// replySnapshot resolves the denormalized reply reference. A target
// with no text snapshots the "Image" placeholder instead.
func (s *Service) replySnapshot(ctx context.Context, convID, targetID string) (*models.ReplyRef, error) {
	rec, err := s.st.Get(ctx, models.MessagePath(convID, targetID))
	if err != nil {
		return nil, err
	}
	target := models.MessageFromRecord(rec)
	text := target.Text
	if text == "" {
		text = "Image"
	}
	return &models.ReplyRef{ID: target.ID, Text: text, DisplayName: target.DisplayName}, nil
}

// Edit replaces the text of the caller's own text message and stamps
// editedAt. createdAt and the timeline position are untouched.
func (s *Service) Edit(ctx context.Context, convID, msgID, callerUID, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	rec, err := s.st.Get(ctx, models.MessagePath(convID, msgID))
	if err != nil {
		return err
	}
	msg := models.MessageFromRecord(rec)
	if msg.UID != callerUID {
		return ErrNotSender
	}
	if msg.Text == "" {
		return ErrNotEditable
	}
	return s.st.WriteMerge(ctx, rec.Path, map[string]any{
		"text":     text,
		"editedAt": store.ServerTimestamp(),
	})
}

// DeleteMessage removes the caller's own message outright. Replies
// pointing at it keep their stale snapshot.
func (s *Service) DeleteMessage(ctx context.Context, convID, msgID, callerUID string) error {
	rec, err := s.st.Get(ctx, models.MessagePath(convID, msgID))
	if err != nil {
		return err
	}
	if models.MessageFromRecord(rec).UID != callerUID {
		return ErrNotSender
	}
	return s.st.Delete(ctx, rec.Path)
}

// React toggles the caller's reaction: present removes it, absent adds
// it. An emoji whose reactor list empties is dropped from the map, and
// the whole reaction state is written as one field merge so concurrent
// edits to other fields are untouched.
func (s *Service) React(ctx context.Context, convID, msgID, callerUID, emoji string) error {
	rec, err := s.st.Get(ctx, models.MessagePath(convID, msgID))
	if err != nil {
		return err
	}
	msg := models.MessageFromRecord(rec)
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}

	uids := msg.Reactions[emoji]
	removed := false
	for i, u := range uids {
		if u == callerUID {
			uids = append(uids[:i], uids[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(uids) == 0 {
			delete(msg.Reactions, emoji)
		} else {
			msg.Reactions[emoji] = uids
		}
	} else {
		msg.Reactions[emoji] = append(uids, callerUID)
	}

	return s.st.WriteMerge(ctx, rec.Path, map[string]any{"reactions": msg.ReactionsField()})
}

// Settings loads the conversation theme, falling back to the defaults
// when the record is absent.
func (s *Service) Settings(ctx context.Context, convID string) (models.Settings, error) {
	rec, err := s.st.Get(ctx, models.SettingsPath(convID))
	if errors.Is(err, store.ErrNotFound) {
		return models.Settings{Color: s.DefaultColor, Emoji: s.DefaultEmoji}, nil
	}
	if err != nil {
		return models.Settings{}, err
	}
	return models.SettingsFromRecord(rec, s.DefaultColor, s.DefaultEmoji), nil
}

// UpdateSettings merges the provided fields into the settings record;
// empty strings leave the stored value alone.
func (s *Service) UpdateSettings(ctx context.Context, convID, color, emoji string) error {
	fields := map[string]any{}
	if color != "" {
		fields["color"] = color
	}
	if emoji != "" {
		fields["emoji"] = emoji
	}
	if len(fields) == 0 {
		return nil
	}
	return s.st.WriteMerge(ctx, models.SettingsPath(convID), fields)
}

// checkParticipant enforces membership for groups and the mutual
// block rule for direct conversations.
func (s *Service) checkParticipant(ctx context.Context, conv models.Conversation, sender models.User) error {
	if conv.IsGroup {
		if !conv.HasMember(sender.UID) {
			return ErrNotMember
		}
		return nil
	}
	if conv.PeerUID == "" {
		return ErrNotMember
	}
	if sender.HasBlocked(conv.PeerUID) {
		telemetry.WritesRejected.Inc()
		return ErrBlocked
	}
	peerRec, err := s.st.Get(ctx, models.UserPath(conv.PeerUID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotMember
		}
		return err
	}
	if models.UserFromRecord(peerRec).HasBlocked(sender.UID) {
		telemetry.WritesRejected.Inc()
		return ErrBlocked
	}
	return nil
}
