package models

// Record path layout. A direct conversation shares the "chats"
// namespace with groups but has no conversation record of its own;
// only its subcollections exist.

func UserPath(uid string) string    { return "users/" + uid }
func ChatPath(chatID string) string { return "chats/" + chatID }
func StoryPath(id string) string    { return "stories/" + id }

func MessagePath(chatID, msgID string) string { return "chats/" + chatID + "/messages/" + msgID }
func TypingPath(chatID, uid string) string    { return "chats/" + chatID + "/typing/" + uid }
func SettingsPath(chatID string) string       { return "chats/" + chatID + "/settings/theme" }

func MessagesCollection(chatID string) string { return "chats/" + chatID + "/messages" }
func TypingCollection(chatID string) string   { return "chats/" + chatID + "/typing" }

const (
	UsersCollection   = "users"
	ChatsCollection   = "chats"
	StoriesCollection = "stories"
)
