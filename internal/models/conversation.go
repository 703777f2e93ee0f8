package models

import "kirimin/server/internal/store"

// Conversation describes a chat thread. Direct conversations are
// implicit (their id is derivable from the two participants and no
// chat record exists); groups have a store record carrying membership.
type Conversation struct {
	ID        string   `json:"id"`
	IsGroup   bool     `json:"isGroup"`
	GroupName string   `json:"groupName,omitempty"`
	Members   []string `json:"members,omitempty"`
	Admins    []string `json:"admins,omitempty"`
	CreatedBy string   `json:"createdBy,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	// PeerUID is set on direct conversations: the other participant.
	PeerUID string `json:"peerUid,omitempty"`
}

// Fields returns the store representation of a group conversation.
func (c Conversation) Fields() map[string]any {
	return map[string]any{
		"isGroup":   true,
		"groupName": c.GroupName,
		"members":   toAny(c.Members),
		"admins":    toAny(c.Admins),
		"createdBy": c.CreatedBy,
		"createdAt": c.CreatedAt,
	}
}

// ConversationFromRecord decodes a group conversation record.
func ConversationFromRecord(rec store.Record) Conversation {
	f := rec.Fields
	return Conversation{
		ID:        rec.ID(),
		IsGroup:   boolean(f["isGroup"]),
		GroupName: str(f["groupName"]),
		Members:   strSlice(f["members"]),
		Admins:    strSlice(f["admins"]),
		CreatedBy: str(f["createdBy"]),
		CreatedAt: i64(f["createdAt"]),
	}
}

// IsAdmin reports whether uid administers this group.
func (c Conversation) IsAdmin(uid string) bool {
	for _, a := range c.Admins {
		if a == uid {
			return true
		}
	}
	return false
}

// HasMember reports whether uid belongs to this group.
func (c Conversation) HasMember(uid string) bool {
	for _, m := range c.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// Settings is the per-conversation customization record, merged (never
// replaced) on update.
type Settings struct {
	Color string `json:"color"`
	Emoji string `json:"emoji"`
}

// SettingsFromRecord decodes a settings record, applying the given
// defaults for missing fields.
func SettingsFromRecord(rec store.Record, defaultColor, defaultEmoji string) Settings {
	s := Settings{
		Color: str(rec.Fields["color"]),
		Emoji: str(rec.Fields["emoji"]),
	}
	if s.Color == "" {
		s.Color = defaultColor
	}
	if s.Emoji == "" {
		s.Emoji = defaultEmoji
	}
	return s
}
