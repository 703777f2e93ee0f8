package models

// View models exposed to the UI layer. Plain serializable shapes; no
// store types leak through.

// UnreadState is tri-state: a listener failure demotes a conversation
// to unknown rather than claiming it is read.
type UnreadState string

const (
	UnreadUnknown UnreadState = "unknown"
	UnreadNone    UnreadState = "none"
	UnreadSome    UnreadState = "unread"
)

// Timeline entry kinds.
const (
	EntryMessage       = "message"
	EntryDateSeparator = "date_separator"
)

// TimelineItem is one entry of the display-ready message sequence,
// delivered newest-first for an inverted-scroll list.
type TimelineItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`

	// message entries
	Message *MessageView `json:"message,omitempty"`

	// date_separator entries
	DateLabel string `json:"dateLabel,omitempty"`
	Date      string `json:"date,omitempty"` // YYYY-MM-DD
}

// MessageView is a message annotated for rendering. When BlockedLink
// is set the Text already holds the fixed placeholder; the raw text is
// withheld from the view.
type MessageView struct {
	Message
	BlockedLink bool `json:"blockedLink,omitempty"`
}

// ChatListEntry is one row of the aggregated conversation list.
type ChatListEntry struct {
	ConversationID string      `json:"conversationId"`
	IsGroup        bool        `json:"isGroup"`
	Name           string      `json:"name"`
	PeerUID        string      `json:"peerUid,omitempty"`
	IsFavorite     bool        `json:"isFavorite,omitempty"`
	Unread         UnreadState `json:"unread"`
}
