package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/stories"
	"kirimin/server/internal/store"
	subs "kirimin/server/internal/sync"
	"kirimin/server/internal/timeline"
	"kirimin/server/internal/typing"
	"kirimin/server/internal/utils"
)

// Session is the engine state behind one authenticated connection: a
// subscription manager, the typing notifiers of open conversations and
// the live story feed. All derived state is pushed as Event frames.
type Session struct {
	uid  string
	st   store.Store
	hub  *Hub
	send chan []byte
	done chan struct{}

	storySvc       *stories.Service
	blockedDomains []string
	debounce       time.Duration
	loc            *time.Location

	mgr *subs.Manager

	mu           sync.Mutex
	self         models.User
	peers        map[string]models.User
	unread       map[string]models.UnreadState
	groups       []models.Conversation
	notifiers    map[string]*typing.Notifier
	storyDispose store.Disposer
	storyFriends string // fingerprint of the audience behind storyDispose
	closed       bool
}

func newSession(uid string, st store.Store, hub *Hub, storySvc *stories.Service, blockedDomains []string, debounce time.Duration) *Session {
	s := &Session{
		uid:            uid,
		st:             st,
		hub:            hub,
		send:           make(chan []byte, 256),
		done:           make(chan struct{}),
		storySvc:       storySvc,
		blockedDomains: blockedDomains,
		debounce:       debounce,
		loc:            time.Local,
		peers:          make(map[string]models.User),
		unread:         make(map[string]models.UnreadState),
		notifiers:      make(map[string]*typing.Notifier),
	}
	s.mgr = subs.NewManager(st, uid, subs.Callbacks{
		Self:     s.onSelf,
		Peer:     s.onPeer,
		Requests: s.onRequests,
		Groups:   s.onGroups,
		Unread:   s.onUnread,
		Timeline: s.onTimeline,
		Typing:   s.onTyping,
	})
	return s
}

// start opens the root listeners. The first self snapshot fans out the
// initial chat list and story feed.
func (s *Session) start() error {
	return s.mgr.Start()
}

// stop tears everything down: typing presence is cleared so the peer
// does not see a ghost indicator after the disconnect. The send queue
// is never closed; closing done ends the write pump instead, so a
// store callback still in flight can push into the queue harmlessly.
func (s *Session) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	notifiers := s.notifiers
	s.notifiers = map[string]*typing.Notifier{}
	dispose := s.storyDispose
	s.storyDispose = nil
	s.mu.Unlock()

	for _, n := range notifiers {
		n.Stop()
	}
	if dispose != nil {
		dispose()
	}
	s.mgr.Close()
}

func (s *Session) onSelf(u models.User) {
	s.mu.Lock()
	s.self = u
	s.mu.Unlock()

	s.push(EventSelf, u)
	s.pushChatList()
	s.refreshStories(u)
}

func (s *Session) onRequests(reqs []models.FriendRequest) {
	if reqs == nil {
		reqs = []models.FriendRequest{}
	}
	s.push(EventRequests, reqs)
}

func (s *Session) onGroups(groups []models.Conversation) {
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()

	s.push(EventGroups, groups)
	s.pushChatList()
}

func (s *Session) onPeer(uid string, u models.User) {
	s.mu.Lock()
	s.peers[uid] = u
	s.mu.Unlock()
	s.pushChatList()
}

func (s *Session) onUnread(convID string, state models.UnreadState) {
	s.mu.Lock()
	s.unread[convID] = state
	s.mu.Unlock()
	s.pushChatList()
}

// onTimeline turns a raw snapshot into display items and settles read
// receipts. The receipt write triggers one follow-up snapshot in which
// nothing is left unread, so the loop terminates immediately.
func (s *Session) onTimeline(conv models.Conversation, msgs []models.Message) {
	items := timeline.Build(msgs, time.Now(), s.loc, s.blockedDomains)
	s.push(EventTimeline, TimelinePayload{ConversationID: conv.ID, Items: items})

	if _, err := timeline.MarkRead(context.Background(), s.st, conv.ID, s.uid, msgs); err != nil {
		logger.Log.Warn("read_receipts_failed", zap.String("chat", conv.ID), zap.Error(err))
	}
}

func (s *Session) onTyping(convID string, active bool) {
	s.push(EventTyping, TypingPayload{ConversationID: convID, Typing: active})
}

// pushChatList rebuilds the aggregated conversation list from the
// latest self record, peer snapshots, group set and unread states.
func (s *Session) pushChatList() {
	s.mu.Lock()
	self := s.self
	entries := make([]models.ChatListEntry, 0, len(self.Friends)+len(s.groups))
	for id, conv := range s.mgrDesiredLocked() {
		e := models.ChatListEntry{
			ConversationID: id,
			IsGroup:        conv.IsGroup,
			Unread:         models.UnreadUnknown,
		}
		if st, ok := s.unread[id]; ok {
			e.Unread = st
		}
		if conv.IsGroup {
			e.Name = conv.GroupName
		} else {
			e.PeerUID = conv.PeerUID
			fallback := conv.PeerUID
			if peer, ok := s.peers[conv.PeerUID]; ok {
				fallback = peer.Username
			}
			e.Name = self.DisplayNameFor(conv.PeerUID, fallback)
			for _, f := range self.Favorites {
				if f == conv.PeerUID {
					e.IsFavorite = true
					break
				}
			}
		}
		entries = append(entries, e)
	}
	s.mu.Unlock()

	// favorites first, then by display name for a stable list
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsFavorite != entries[j].IsFavorite {
			return entries[i].IsFavorite
		}
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].ConversationID < entries[j].ConversationID
	})
	s.push(EventChatList, entries)
}

// mgrDesiredLocked mirrors the manager's desired conversation set for
// list building; s.mu must be held.
func (s *Session) mgrDesiredLocked() map[string]models.Conversation {
	out := map[string]models.Conversation{}
	for _, keyed := range s.groups {
		out[keyed.ID] = keyed
	}
	for _, friend := range s.self.Friends {
		id, err := utils.ResolveDirectConversationID(s.uid, friend)
		if err != nil {
			continue
		}
		if conv, ok := s.mgr.Conversation(id); ok {
			out[conv.ID] = conv
		}
	}
	return out
}

// refreshStories (re)opens the visible-story subscription whenever the
// audience changes. The cutoff is re-anchored on each reopen.
func (s *Session) refreshStories(u models.User) {
	fp := fingerprint(u.Friends)
	s.mu.Lock()
	if s.closed || (s.storyDispose != nil && s.storyFriends == fp) {
		s.mu.Unlock()
		return
	}
	prev := s.storyDispose
	s.storyDispose = nil
	s.storyFriends = fp
	s.mu.Unlock()
	if prev != nil {
		prev()
	}

	d, err := s.storySvc.Subscribe(u, func(recs []store.Record) {
		s.push(EventStories, stories.BuildGroups(s.uid, recs))
	}, func(err error) {
		logger.Log.Warn("story_listener_failed", zap.String("uid", s.uid), zap.Error(err))
	})
	if err != nil {
		logger.Log.Warn("story_subscribe_failed", zap.String("uid", s.uid), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		d()
		return
	}
	s.storyDispose = d
	s.mu.Unlock()
}

// handleIncoming routes one client frame.
func (s *Session) handleIncoming(ev IncomingEvent) {
	convID, _ := ev.Payload["conversationId"].(string)
	switch ev.Type {
	case EventOpenChat:
		if convID == "" {
			s.pushError("bad_payload", "conversationId required")
			return
		}
		s.mgr.OpenConversation(convID)
	case EventCloseChat:
		if convID == "" {
			return
		}
		s.mgr.CloseConversation(convID)
		s.stopNotifier(convID)
	case EventKeystroke:
		s.keystroke(convID)
	case EventStopTyping:
		s.stopNotifier(convID)
	default:
		logger.Log.Debug("unknown_client_event", zap.String("type", string(ev.Type)))
	}
}

// keystroke drives the typing debounce for a direct conversation.
func (s *Session) keystroke(convID string) {
	conv, ok := s.mgr.Conversation(convID)
	if !ok {
		s.pushError("unknown_conversation", "no such conversation")
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	n, ok := s.notifiers[convID]
	if !ok {
		n = typing.NewNotifier(s.st, convID, s.uid, conv.IsGroup, s.debounce)
		s.notifiers[convID] = n
	}
	s.mu.Unlock()
	n.Keystroke()
}

func (s *Session) stopNotifier(convID string) {
	s.mu.Lock()
	n, ok := s.notifiers[convID]
	delete(s.notifiers, convID)
	s.mu.Unlock()
	if ok {
		n.Stop()
	}
}

// push serializes an event onto the send queue. Events for a stopped
// session are dropped. A full queue asks the hub to drop the session
// without blocking; the client reconnects and receives fresh full
// snapshots.
func (s *Session) push(t EventType, payload interface{}) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	data, err := json.Marshal(Event{Type: t, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		logger.Log.Error("event_marshal_failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		logger.Log.Warn("session_send_overflow", zap.String("uid", s.uid), zap.String("type", string(t)))
		select {
		case s.hub.Unregister <- s:
		default:
			// the hub loop may be busy starting this very session;
			// the frame is dropped and the next snapshot resyncs
		}
	}
}

func (s *Session) pushError(code, msg string) {
	s.push(EventError, ErrorPayload{Code: code, Message: msg})
}

func fingerprint(friends []string) string {
	sorted := append([]string(nil), friends...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
