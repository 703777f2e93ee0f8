package models

import "kirimin/server/internal/store"

// Message is one chat message record. The sender display name and the
// reply snapshot are denormalized at send time and intentionally never
// refreshed afterwards.
type Message struct {
	ID          string              `json:"id"`
	UID         string              `json:"uid"` // sender
	DisplayName string              `json:"displayName"`
	Text        string              `json:"text,omitempty"`
	Image       string              `json:"image,omitempty"`
	ImageWidth  int64               `json:"imageWidth,omitempty"`
	ImageHeight int64               `json:"imageHeight,omitempty"`
	IsRead      bool                `json:"isRead"`
	CreatedAt   int64               `json:"createdAt"` // store-assigned, UTC nanoseconds
	EditedAt    int64               `json:"editedAt,omitempty"`
	ReplyTo     *ReplyRef           `json:"replyTo,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"` // emoji -> reactor uids
}

// ReplyRef is the denormalized snapshot of a reply target. Text holds
// the "Image" placeholder when the target had no text.
type ReplyRef struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
}

// Fields returns the store representation used on send. CreatedAt is
// written as a ServerTime sentinel by the caller, not from here.
func (m Message) Fields() map[string]any {
	f := map[string]any{
		"uid":         m.UID,
		"displayName": m.DisplayName,
		"text":        m.Text,
		"isRead":      m.IsRead,
	}
	if m.Image != "" {
		f["image"] = m.Image
		f["imageWidth"] = m.ImageWidth
		f["imageHeight"] = m.ImageHeight
	}
	if m.ReplyTo != nil {
		f["replyTo"] = map[string]any{
			"id":          m.ReplyTo.ID,
			"text":        m.ReplyTo.Text,
			"displayName": m.ReplyTo.DisplayName,
		}
	}
	return f
}

// MessageFromRecord decodes a message record; the ID is the record id.
func MessageFromRecord(rec store.Record) Message {
	f := rec.Fields
	m := Message{
		ID:          rec.ID(),
		UID:         str(f["uid"]),
		DisplayName: str(f["displayName"]),
		Text:        str(f["text"]),
		Image:       str(f["image"]),
		ImageWidth:  i64(f["imageWidth"]),
		ImageHeight: i64(f["imageHeight"]),
		IsRead:      boolean(f["isRead"]),
		CreatedAt:   i64(f["createdAt"]),
		EditedAt:    i64(f["editedAt"]),
	}
	if r, ok := f["replyTo"].(map[string]any); ok {
		m.ReplyTo = &ReplyRef{
			ID:          str(r["id"]),
			Text:        str(r["text"]),
			DisplayName: str(r["displayName"]),
		}
	}
	if rx, ok := f["reactions"].(map[string]any); ok {
		m.Reactions = make(map[string][]string, len(rx))
		for emoji, uids := range rx {
			m.Reactions[emoji] = strSlice(uids)
		}
	}
	return m
}

// ReactionsField returns the reactions map in store form, for a
// single-field merge that replaces only the reaction state.
func (m Message) ReactionsField() map[string]any {
	out := map[string]any{}
	for emoji, uids := range m.Reactions {
		out[emoji] = toAny(uids)
	}
	return out
}
