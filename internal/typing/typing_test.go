package typing

import (
	"context"
	"errors"
	"testing"
	"time"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/store/pebbledoc"
)

func openTest(t *testing.T) *pebbledoc.DB {
	t.Helper()
	db, err := pebbledoc.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func presenceExists(t *testing.T, db *pebbledoc.DB, chatID, uid string) bool {
	t.Helper()
	_, err := db.Get(context.Background(), models.TypingPath(chatID, uid))
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	t.Fatalf("Get presence: %v", err)
	return false
}

func TestKeystrokeWritesPresenceOnce(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "c1", "u1", false, time.Hour)
	defer n.Stop()

	n.Keystroke()
	if !presenceExists(t, db, "c1", "u1") {
		t.Fatal("presence record missing after keystroke")
	}
	if !n.Active() {
		t.Fatal("notifier not active")
	}

	// further keystrokes keep the record without rewriting state
	n.Keystroke()
	n.Keystroke()
	if !presenceExists(t, db, "c1", "u1") {
		t.Fatal("presence record lost")
	}
}

func TestDebounceExpiryClearsPresence(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "c1", "u1", false, 20*time.Millisecond)
	defer n.Stop()

	n.Keystroke()
	deadline := time.Now().Add(2 * time.Second)
	for n.Active() {
		if time.Now().After(deadline) {
			t.Fatal("presence never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if presenceExists(t, db, "c1", "u1") {
		t.Fatal("presence record survived expiry")
	}
}

func TestKeystrokeResetsTimer(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "c1", "u1", false, 60*time.Millisecond)
	defer n.Stop()

	n.Keystroke()
	// keep typing faster than the debounce window
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		n.Keystroke()
	}
	if !n.Active() {
		t.Fatal("presence expired while keystrokes kept arriving")
	}
}

func TestStaleExpiryIgnoredAfterRearm(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "c1", "u1", false, time.Hour)
	defer n.Stop()

	n.Keystroke()
	n.mu.Lock()
	stale := n.gen
	n.mu.Unlock()
	// the rearm replaces the timer; an old timer that already fired and
	// was waiting on the mutex would land here with the stale generation
	n.Keystroke()

	n.expire(stale)
	if !n.Active() {
		t.Fatal("stale expiry cleared live presence")
	}
	if !presenceExists(t, db, "c1", "u1") {
		t.Fatal("stale expiry deleted the presence record")
	}
}

func TestStopClearsImmediately(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "c1", "u1", false, time.Hour)

	n.Keystroke()
	n.Stop()
	if n.Active() {
		t.Fatal("still active after Stop")
	}
	if presenceExists(t, db, "c1", "u1") {
		t.Fatal("presence record survived Stop")
	}

	// stopping an idle notifier is fine
	n.Stop()
}

func TestGroupNotifierIsNoop(t *testing.T) {
	db := openTest(t)
	n := NewNotifier(db, "g1", "u1", true, time.Hour)

	n.Keystroke()
	if n.Active() {
		t.Fatal("group notifier became active")
	}
	if presenceExists(t, db, "g1", "u1") {
		t.Fatal("group notifier wrote presence")
	}
	n.Stop()
}
