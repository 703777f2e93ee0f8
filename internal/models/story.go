package models

import "kirimin/server/internal/store"

// Story is one ephemeral content record. Author profile fields are a
// snapshot at publish time. Stories are never updated, only deleted by
// their author or hidden by window expiry.
type Story struct {
	ID        string         `json:"id"`
	UID       string         `json:"uid"`
	Username  string         `json:"username"`
	Profile   map[string]any `json:"profile,omitempty"`
	Image     string         `json:"image"`
	MediaType string         `json:"mediaType"` // image | video
	CreatedAt int64          `json:"createdAt"`
}

// Fields returns the store representation used on publish.
func (s Story) Fields() map[string]any {
	return map[string]any{
		"uid":       s.UID,
		"username":  s.Username,
		"profile":   s.Profile,
		"image":     s.Image,
		"mediaType": s.MediaType,
	}
}

// StoryFromRecord decodes a story record; the ID is the record id.
func StoryFromRecord(rec store.Record) Story {
	f := rec.Fields
	st := Story{
		ID:        rec.ID(),
		UID:       str(f["uid"]),
		Username:  str(f["username"]),
		Image:     str(f["image"]),
		MediaType: str(f["mediaType"]),
		CreatedAt: i64(f["createdAt"]),
	}
	if p, ok := f["profile"].(map[string]any); ok {
		st.Profile = p
	}
	return st
}

// StoryGroup is the view model for one author's visible stories.
type StoryGroup struct {
	UID      string         `json:"uid"`
	Username string         `json:"username"`
	Profile  map[string]any `json:"profile,omitempty"`
	Stories  []Story        `json:"stories"`
}
