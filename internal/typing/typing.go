// Package typing is the per-conversation presence state machine: local
// keystrokes become a presence record upstream, debounced so the
// record is deleted after a quiet period or on send.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
)

// DefaultDebounce is how long after the last keystroke the user is
// considered to have stopped typing.
const DefaultDebounce = 3 * time.Second

// Notifier manages the session user's typing presence in one direct
// conversation. The presence record's existence is the entire signal;
// it carries no meaningful payload. Group conversations get a no-op
// notifier: group-scale presence fan-out is not supported.
type Notifier struct {
	st       store.Store
	chatID   string
	uid      string
	debounce time.Duration
	group    bool

	mu     sync.Mutex
	timer  *time.Timer
	gen    int  // bumped on every rearm; a stale expiry compares and bails
	active bool // presence record currently written
}

// NewNotifier builds a notifier for one conversation. debounce <= 0
// falls back to DefaultDebounce.
func NewNotifier(st store.Store, chatID, uid string, isGroup bool, debounce time.Duration) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Notifier{st: st, chatID: chatID, uid: uid, debounce: debounce, group: isGroup}
}

// Keystroke records typing activity: writes the presence record if it
// is not already up, and resets the idle timer. The previous timer is
// always replaced, never stacked, so at most one expiry is pending.
func (n *Notifier) Keystroke() {
	if n.group {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		err := n.st.WriteMerge(context.Background(), models.TypingPath(n.chatID, n.uid), map[string]any{"typing": true})
		if err != nil {
			logger.Log.Warn("typing_write_failed", zap.String("chat", n.chatID), zap.Error(err))
			return
		}
		n.active = true
	}

	// Stop's return cannot say whether the old timer already fired and
	// is waiting on the mutex; the generation check makes such a late
	// expiry a no-op.
	if n.timer != nil {
		n.timer.Stop()
	}
	n.gen++
	gen := n.gen
	n.timer = time.AfterFunc(n.debounce, func() { n.expire(gen) })
}

func (n *Notifier) expire(gen int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		return
	}
	n.clearLocked()
}

// Stop ends the typing state immediately: cancels any pending timer
// and deletes the presence record. Called on send and on conversation
// teardown, whatever state the timer is in.
func (n *Notifier) Stop() {
	if n.group {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
	n.clearLocked()
}

func (n *Notifier) clearLocked() {
	if !n.active {
		return
	}
	if err := n.st.Delete(context.Background(), models.TypingPath(n.chatID, n.uid)); err != nil {
		logger.Log.Warn("typing_clear_failed", zap.String("chat", n.chatID), zap.Error(err))
	}
	n.active = false
	n.timer = nil
}

// Active reports whether the presence record is currently written.
func (n *Notifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}
