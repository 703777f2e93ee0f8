// Package websocket hosts one engine session per connected user and
// pushes derived view models down the socket.
package websocket

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/stories"
	"kirimin/server/internal/store"
	"kirimin/server/internal/telemetry"
)

// Hub maintains the set of live sessions, one per user id. A second
// connection for the same user replaces the first.
type Hub struct {
	st       store.Store
	storySvc *stories.Service

	blockedDomains []string
	typingDebounce time.Duration

	Register   chan *Session
	Unregister chan *Session

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(st store.Store, storySvc *stories.Service, blockedDomains []string, typingDebounce time.Duration) *Hub {
	return &Hub{
		st:             st,
		storySvc:       storySvc,
		blockedDomains: blockedDomains,
		typingDebounce: typingDebounce,
		Register:       make(chan *Session),
		Unregister:     make(chan *Session),
		sessions:       make(map[string]*Session),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.Register:
			h.register(s)
		case s := <-h.Unregister:
			h.unregister(s)
		}
	}
}

// NewSession builds an engine session for an authenticated user. The
// caller registers it and runs the pumps.
func (h *Hub) NewSession(uid string) *Session {
	return newSession(uid, h.st, h, h.storySvc, h.blockedDomains, h.typingDebounce)
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	if prev, ok := h.sessions[s.uid]; ok {
		prev.stop()
	}
	h.sessions[s.uid] = s
	h.mu.Unlock()

	telemetry.ConnectedSessions.Inc()
	if err := s.start(); err != nil {
		logger.Log.Error("session_start_failed", zap.String("uid", s.uid), zap.Error(err))
		h.unregister(s)
		return
	}
	logger.Log.Info("session_connected", zap.String("uid", s.uid))
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	current, ok := h.sessions[s.uid]
	if ok && current == s {
		delete(h.sessions, s.uid)
	}
	h.mu.Unlock()
	if !ok || current != s {
		return
	}

	s.stop()
	telemetry.ConnectedSessions.Dec()
	logger.Log.Info("session_disconnected", zap.String("uid", s.uid))
}

// IsConnected reports whether a user has a live session.
func (h *Hub) IsConnected(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[uid]
	return ok
}

// ConnectedCount returns the number of live sessions.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
