package models

import "kirimin/server/internal/store"

// User is the relationship record for one account. Friends, pending
// requests, blocks and favorites all live on this single record so one
// listener on it drives the whole chat list.
type User struct {
	UID             string            `json:"uid"`
	Username        string            `json:"username"`
	Email           string            `json:"email"`
	PasswordHash    string            `json:"-"` // never expose in JSON
	Friends         []string          `json:"friends"`
	Nicknames       map[string]string `json:"nicknames,omitempty"`
	PendingRequests []FriendRequest   `json:"pendingRequests,omitempty"`
	BlockedUsers    []string          `json:"blockedUsers,omitempty"`
	Favorites       []string          `json:"favorites,omitempty"`
	Profile         map[string]any    `json:"profile,omitempty"` // opaque customization
	CreatedAt       int64             `json:"createdAt"`
}

// FriendRequest is embedded in the recipient's record as an array
// element. The username is a snapshot taken at send time, not kept
// live; removal is by exact value match.
type FriendRequest struct {
	FromUID      string `json:"fromUid"`
	FromUsername string `json:"fromUsername"`
}

// Fields returns the store representation of the request entry.
func (fr FriendRequest) Fields() map[string]any {
	return map[string]any{
		"fromUid":      fr.FromUID,
		"fromUsername": fr.FromUsername,
	}
}

// Fields returns the full store representation of the user.
func (u User) Fields() map[string]any {
	reqs := make([]any, 0, len(u.PendingRequests))
	for _, r := range u.PendingRequests {
		reqs = append(reqs, r.Fields())
	}
	nick := map[string]any{}
	for k, v := range u.Nicknames {
		nick[k] = v
	}
	return map[string]any{
		"username":        u.Username,
		"email":           u.Email,
		"passwordHash":    u.PasswordHash,
		"friends":         toAny(u.Friends),
		"nicknames":       nick,
		"pendingRequests": reqs,
		"blockedUsers":    toAny(u.BlockedUsers),
		"favorites":       toAny(u.Favorites),
		"profile":         u.Profile,
		"createdAt":       u.CreatedAt,
	}
}

// UserFromRecord decodes a user record; the UID is the record id.
func UserFromRecord(rec store.Record) User {
	f := rec.Fields
	u := User{
		UID:          rec.ID(),
		Username:     str(f["username"]),
		Email:        str(f["email"]),
		PasswordHash: str(f["passwordHash"]),
		Friends:      strSlice(f["friends"]),
		Nicknames:    strMap(f["nicknames"]),
		BlockedUsers: strSlice(f["blockedUsers"]),
		Favorites:    strSlice(f["favorites"]),
		CreatedAt:    i64(f["createdAt"]),
	}
	if p, ok := f["profile"].(map[string]any); ok {
		u.Profile = p
	}
	if arr, ok := f["pendingRequests"].([]any); ok {
		for _, e := range arr {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			u.PendingRequests = append(u.PendingRequests, FriendRequest{
				FromUID:      str(m["fromUid"]),
				FromUsername: str(m["fromUsername"]),
			})
		}
	}
	return u
}

// DisplayNameFor resolves what this user calls another: the nickname
// override when one is set, the fallback name otherwise.
func (u User) DisplayNameFor(uid, fallback string) string {
	if n, ok := u.Nicknames[uid]; ok && n != "" {
		return n
	}
	return fallback
}

// HasFriend reports whether uid is on the friend list.
func (u User) HasFriend(uid string) bool {
	for _, f := range u.Friends {
		if f == uid {
			return true
		}
	}
	return false
}

// HasBlocked reports whether uid is on the block list.
func (u User) HasBlocked(uid string) bool {
	for _, b := range u.BlockedUsers {
		if b == uid {
			return true
		}
	}
	return false
}
