package websocket

import (
	"time"

	"kirimin/server/internal/models"
)

// EventType discriminates websocket frames in both directions.
type EventType string

const (
	// Server -> client: derived state pushes.
	EventSelf     EventType = "self"
	EventRequests EventType = "friend_requests"
	EventChatList EventType = "chat_list"
	EventGroups   EventType = "groups"
	EventTimeline EventType = "timeline"
	EventTyping   EventType = "typing"
	EventStories  EventType = "stories"
	EventError    EventType = "error"

	// Client -> server.
	EventKeystroke  EventType = "keystroke"
	EventStopTyping EventType = "stop_typing"
	EventOpenChat   EventType = "open_conversation"
	EventCloseChat  EventType = "close_conversation"
)

// Event is the wire frame for server pushes.
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TimelinePayload carries one conversation's display-ready messages,
// newest first.
type TimelinePayload struct {
	ConversationID string                `json:"conversationId"`
	Items          []models.TimelineItem `json:"items"`
}

// TypingPayload reports the peer's typing state for a direct chat.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// ErrorPayload reports a rejected client event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncomingEvent is a frame received from the client.
type IncomingEvent struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}
