// Package sync owns the live store subscriptions for one user session:
// one listener per conversation of interest plus the user's own
// relationship record, reconciled whenever the friend list or group
// membership changes. Every opened listener is tracked by a disposer;
// the registry guarantees no listener leaks across reconciliations.
package sync

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/telemetry"
	"kirimin/server/internal/utils"
)

// Callbacks receive derived state. All of them may be invoked from
// store notification context; nil entries are skipped.
type Callbacks struct {
	Self     func(u models.User)
	Peer     func(uid string, u models.User)
	Requests func(reqs []models.FriendRequest)
	Groups   func(groups []models.Conversation)
	Unread   func(convID string, state models.UnreadState)
	Timeline func(conv models.Conversation, msgs []models.Message)
	Typing   func(convID string, typing bool)
}

// Manager is the subscription registry for one session.
type Manager struct {
	st  store.Store
	uid string
	cb  Callbacks

	// recMu serializes reconciliation; mu guards the maps and is never
	// held across a store call.
	recMu sync.Mutex
	mu    sync.Mutex

	listeners map[string]store.Disposer
	desired   map[string]models.Conversation // conversation id -> ref
	opened    map[string]bool                // conversations with an attached timeline
	unread    map[string]models.UnreadState
	self      models.User
	groups    []models.Conversation
	closed    bool
}

// NewManager builds a manager for the given session user. Start must
// be called to begin listening.
func NewManager(st store.Store, uid string, cb Callbacks) *Manager {
	return &Manager{
		st:        st,
		uid:       uid,
		cb:        cb,
		listeners: make(map[string]store.Disposer),
		desired:   make(map[string]models.Conversation),
		opened:    make(map[string]bool),
		unread:    make(map[string]models.UnreadState),
	}
}

// Start opens the root listeners: the user's own record and the group
// membership query. Each of their updates recomputes the desired
// conversation set and reconciles.
func (m *Manager) Start() error {
	if err := m.open("self", func() (store.Disposer, error) {
		return m.st.Watch(models.UserPath(m.uid), m.onSelf, m.rootFailed("self"))
	}); err != nil {
		return err
	}
	return m.open("groups", func() (store.Disposer, error) {
		q := store.Query{Collection: models.ChatsCollection}.
			Where("isGroup", store.OpEqual, true).
			Where("members", store.OpContains, m.uid)
		return m.st.Subscribe(q, m.onGroups, m.rootFailed("groups"))
	})
}

func (m *Manager) onSelf(rec store.Record, exists bool) {
	if !exists {
		return
	}
	u := models.UserFromRecord(rec)
	m.mu.Lock()
	m.self = u
	m.mu.Unlock()

	if m.cb.Self != nil {
		m.cb.Self(u)
	}
	if m.cb.Requests != nil {
		m.cb.Requests(u.PendingRequests)
	}
	m.Reconcile(m.desiredSet())
}

func (m *Manager) onGroups(recs []store.Record) {
	groups := make([]models.Conversation, 0, len(recs))
	for _, r := range recs {
		groups = append(groups, models.ConversationFromRecord(r))
	}
	m.mu.Lock()
	m.groups = groups
	m.mu.Unlock()

	if m.cb.Groups != nil {
		m.cb.Groups(groups)
	}
	m.Reconcile(m.desiredSet())
}

func (m *Manager) rootFailed(name string) store.ErrorFunc {
	return func(err error) {
		telemetry.ListenerFailures.Inc()
		logger.Log.Error("root_listener_failed", zap.String("listener", name), zap.Error(err))
	}
}

// desiredSet derives the conversation set from the latest self record
// and group memberships: one direct conversation per friend plus every
// group the user belongs to.
func (m *Manager) desiredSet() map[string]models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.Conversation, len(m.self.Friends)+len(m.groups))
	for _, friend := range m.self.Friends {
		id, err := utils.ResolveDirectConversationID(m.uid, friend)
		if err != nil {
			continue
		}
		out[id] = models.Conversation{ID: id, PeerUID: friend}
	}
	for _, g := range m.groups {
		out[g.ID] = g
	}
	return out
}

// Reconcile brings the live listener set to exactly what the desired
// conversation set requires: per conversation an unread listener, plus
// a peer-profile listener for direct conversations, plus the timeline
// and typing listeners of conversations currently open on screen.
// Idempotent; safe to call on every upstream update.
func (m *Manager) Reconcile(desired map[string]models.Conversation) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.desired = desired

	want := make(map[string]models.Conversation)
	for id, conv := range desired {
		want["unread:"+id] = conv
		if !conv.IsGroup && conv.PeerUID != "" {
			want["peer:"+conv.PeerUID] = conv
		}
		if m.opened[id] {
			want["timeline:"+id] = conv
			if !conv.IsGroup {
				want["typing:"+id] = conv
			}
		}
	}

	var stale []string
	var staleDisposers []store.Disposer
	for key, disposer := range m.listeners {
		if key == "self" || key == "groups" {
			continue
		}
		if _, ok := want[key]; !ok {
			stale = append(stale, key)
			staleDisposers = append(staleDisposers, disposer)
			delete(m.listeners, key)
		}
	}
	var missing []string
	for key := range want {
		if _, ok := m.listeners[key]; !ok {
			missing = append(missing, key)
		}
	}
	m.mu.Unlock()

	for _, d := range staleDisposers {
		d()
		telemetry.OpenListeners.Dec()
	}
	for _, key := range stale {
		if id, ok := strings.CutPrefix(key, "unread:"); ok {
			m.mu.Lock()
			delete(m.unread, id)
			m.mu.Unlock()
		}
	}

	sort.Strings(missing)
	for _, key := range missing {
		conv := want[key]
		var err error
		switch {
		case strings.HasPrefix(key, "unread:"):
			err = m.open(key, func() (store.Disposer, error) { return m.openUnread(conv) })
		case strings.HasPrefix(key, "peer:"):
			err = m.open(key, func() (store.Disposer, error) { return m.openPeer(conv.PeerUID) })
		case strings.HasPrefix(key, "timeline:"):
			err = m.open(key, func() (store.Disposer, error) { return m.openTimeline(conv) })
		case strings.HasPrefix(key, "typing:"):
			err = m.open(key, func() (store.Disposer, error) { return m.openTyping(conv) })
		}
		if err != nil {
			logger.Log.Warn("listener_open_failed", zap.String("key", key), zap.Error(err))
		}
	}

	if len(stale) > 0 || len(missing) > 0 {
		logger.Log.Debug("reconciled_listeners",
			zap.String("uid", m.uid),
			zap.Int("opened", len(missing)),
			zap.Int("released", len(stale)))
	}
}

// open registers a listener under key, disposing any previous one with
// the same key first.
func (m *Manager) open(key string, create func() (store.Disposer, error)) error {
	m.mu.Lock()
	prev := m.listeners[key]
	delete(m.listeners, key)
	m.mu.Unlock()
	if prev != nil {
		prev()
		telemetry.OpenListeners.Dec()
	}

	d, err := create()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		d()
		return store.ErrClosed
	}
	m.listeners[key] = d
	m.mu.Unlock()
	telemetry.OpenListeners.Inc()
	return nil
}

func (m *Manager) openUnread(conv models.Conversation) (store.Disposer, error) {
	id := conv.ID
	q := store.Query{Collection: models.MessagesCollection(id)}.
		Where("uid", store.OpNotEqual, m.uid).
		Where("isRead", store.OpEqual, false)
	return m.st.Subscribe(q, func(recs []store.Record) {
		state := models.UnreadNone
		if len(recs) > 0 {
			state = models.UnreadSome
		}
		m.setUnread(id, state)
	}, func(err error) {
		// degrade to unknown, keep siblings alive
		telemetry.ListenerFailures.Inc()
		logger.Log.Warn("unread_listener_failed", zap.String("chat", id), zap.Error(err))
		m.setUnread(id, models.UnreadUnknown)
	})
}

func (m *Manager) setUnread(convID string, state models.UnreadState) {
	m.mu.Lock()
	prev, had := m.unread[convID]
	m.unread[convID] = state
	m.mu.Unlock()
	if had && prev == state {
		return
	}
	if m.cb.Unread != nil {
		m.cb.Unread(convID, state)
	}
}

func (m *Manager) openPeer(uid string) (store.Disposer, error) {
	return m.st.Watch(models.UserPath(uid), func(rec store.Record, exists bool) {
		if !exists {
			return
		}
		if m.cb.Peer != nil {
			m.cb.Peer(uid, models.UserFromRecord(rec))
		}
	}, func(err error) {
		telemetry.ListenerFailures.Inc()
		logger.Log.Warn("peer_listener_failed", zap.String("peer", uid), zap.Error(err))
	})
}

func (m *Manager) openTimeline(conv models.Conversation) (store.Disposer, error) {
	q := store.Query{Collection: models.MessagesCollection(conv.ID), OrderDescBy: "createdAt"}
	return m.st.Subscribe(q, func(recs []store.Record) {
		msgs := make([]models.Message, 0, len(recs))
		for _, r := range recs {
			msgs = append(msgs, models.MessageFromRecord(r))
		}
		if m.cb.Timeline != nil {
			m.cb.Timeline(conv, msgs)
		}
	}, func(err error) {
		telemetry.ListenerFailures.Inc()
		logger.Log.Warn("timeline_listener_failed", zap.String("chat", conv.ID), zap.Error(err))
	})
}

func (m *Manager) openTyping(conv models.Conversation) (store.Disposer, error) {
	id := conv.ID
	return m.st.Watch(models.TypingPath(id, conv.PeerUID), func(rec store.Record, exists bool) {
		// existence of the presence record is the whole signal
		if m.cb.Typing != nil {
			m.cb.Typing(id, exists)
		}
	}, func(err error) {
		telemetry.ListenerFailures.Inc()
		logger.Log.Warn("typing_listener_failed", zap.String("chat", id), zap.Error(err))
	})
}

// OpenConversation attaches the timeline (and, for direct chats, the
// typing indicator) of one conversation, as when its screen comes into
// focus.
func (m *Manager) OpenConversation(convID string) {
	m.mu.Lock()
	m.opened[convID] = true
	m.mu.Unlock()
	m.Reconcile(m.desiredSet())
}

// CloseConversation detaches a conversation's timeline and typing
// listeners, as when its screen is torn down.
func (m *Manager) CloseConversation(convID string) {
	m.mu.Lock()
	delete(m.opened, convID)
	m.mu.Unlock()
	m.Reconcile(m.desiredSet())
}

// UnreadState returns the aggregated unread flag for a conversation.
// Conversations without a live listener report unknown.
func (m *Manager) UnreadState(convID string) models.UnreadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.unread[convID]; ok {
		return s
	}
	return models.UnreadUnknown
}

// Self returns the latest decoded session-user record.
func (m *Manager) Self() models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Conversation looks up a conversation in the desired set.
func (m *Manager) Conversation(convID string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.desired[convID]
	return c, ok
}

// ListenerKeys returns the sorted keys of all live listeners.
func (m *Manager) ListenerKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close disposes every listener. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	disposers := make([]store.Disposer, 0, len(m.listeners))
	for _, d := range m.listeners {
		disposers = append(disposers, d)
	}
	m.listeners = map[string]store.Disposer{}
	m.mu.Unlock()

	for _, d := range disposers {
		d()
		telemetry.OpenListeners.Dec()
	}
}
