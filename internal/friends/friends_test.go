package friends

import (
	"context"
	"errors"
	"testing"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store/pebbledoc"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := pebbledoc.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db)
}

func seed(t *testing.T, s *Service, u models.User) {
	t.Helper()
	if err := s.st.WriteMerge(context.Background(), models.UserPath(u.UID), u.Fields()); err != nil {
		t.Fatalf("seed %s: %v", u.UID, err)
	}
}

func load(t *testing.T, s *Service, uid string) models.User {
	t.Helper()
	u, err := s.user(context.Background(), uid)
	if err != nil {
		t.Fatalf("load %s: %v", uid, err)
	}
	return u
}

func TestRequestAcceptHandshake(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice"})
	seed(t, s, models.User{UID: "u2", Username: "bob"})

	alice := load(t, s, "u1")
	if err := s.SendRequest(ctx, alice, "u2"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	// resending is absorbed by the value-based union
	if err := s.SendRequest(ctx, alice, "u2"); err != nil {
		t.Fatalf("resend: %v", err)
	}

	bob := load(t, s, "u2")
	if len(bob.PendingRequests) != 1 {
		t.Fatalf("pending = %v", bob.PendingRequests)
	}
	if bob.PendingRequests[0].FromUsername != "alice" {
		t.Errorf("username snapshot = %q", bob.PendingRequests[0].FromUsername)
	}

	if err := s.Accept(ctx, "u2", "u1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	bob = load(t, s, "u2")
	alice = load(t, s, "u1")
	if len(bob.PendingRequests) != 0 {
		t.Errorf("request survived accept: %v", bob.PendingRequests)
	}
	if !bob.HasFriend("u1") || !alice.HasFriend("u2") {
		t.Errorf("friendship not mutual: bob=%v alice=%v", bob.Friends, alice.Friends)
	}
	if len(bob.Friends) != 1 || len(alice.Friends) != 1 {
		t.Errorf("duplicate friends: bob=%v alice=%v", bob.Friends, alice.Friends)
	}

	// accepting again fails cleanly; nothing duplicated
	if err := s.Accept(ctx, "u2", "u1"); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("second accept: err = %v, want ErrNoRequest", err)
	}
	if bob = load(t, s, "u2"); len(bob.Friends) != 1 {
		t.Errorf("second accept duplicated friends: %v", bob.Friends)
	}
}

func TestAcceptRetryBackfillsRequesterLeg(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	// the accepter's side of a prior accept landed but the requester's
	// never did; the pending entry is already consumed
	seed(t, s, models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}})
	seed(t, s, models.User{UID: "u2", Username: "bob"})

	if err := s.Accept(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Accept retry: %v", err)
	}
	bob := load(t, s, "u2")
	if !bob.HasFriend("u1") || len(bob.Friends) != 1 {
		t.Fatalf("requester friends = %v, want [u1]", bob.Friends)
	}

	// once mutual, a further accept is back to the no-request error
	if err := s.Accept(ctx, "u1", "u2"); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("accept of repaired friendship: err = %v, want ErrNoRequest", err)
	}
}

func TestSendRequestGuards(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}})
	seed(t, s, models.User{UID: "u2", Username: "bob"})
	seed(t, s, models.User{UID: "u3", Username: "carol", BlockedUsers: []string{"u1"}})

	alice := load(t, s, "u1")
	if err := s.SendRequest(ctx, alice, "u1"); !errors.Is(err, ErrSelf) {
		t.Errorf("self request: err = %v", err)
	}
	if err := s.SendRequest(ctx, alice, "u2"); !errors.Is(err, ErrAlreadyFriends) {
		t.Errorf("friend request to friend: err = %v", err)
	}
	if err := s.SendRequest(ctx, alice, "u3"); !errors.Is(err, ErrBlocked) {
		t.Errorf("request to blocker: err = %v", err)
	}
	if err := s.SendRequest(ctx, alice, "missing"); err == nil {
		t.Error("request to missing user succeeded")
	}
}

func TestDeny(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice"})
	seed(t, s, models.User{UID: "u2", Username: "bob"})

	if err := s.SendRequest(ctx, load(t, s, "u1"), "u2"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := s.Deny(ctx, "u2", "u1"); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	bob := load(t, s, "u2")
	alice := load(t, s, "u1")
	if len(bob.PendingRequests) != 0 {
		t.Errorf("request survived deny: %v", bob.PendingRequests)
	}
	if bob.HasFriend("u1") || alice.HasFriend("u2") {
		t.Error("deny created a friendship")
	}
	if err := s.Deny(ctx, "u2", "u1"); !errors.Is(err, ErrNoRequest) {
		t.Errorf("second deny: err = %v", err)
	}
}

func TestBlockSeversBothDirections(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}, Favorites: []string{"u2"}})
	seed(t, s, models.User{UID: "u2", Username: "bob", Friends: []string{"u1"}})

	if err := s.Block(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	alice := load(t, s, "u1")
	bob := load(t, s, "u2")
	if !alice.HasBlocked("u2") {
		t.Error("block list not updated")
	}
	if alice.HasFriend("u2") || bob.HasFriend("u1") {
		t.Errorf("friendship survived block: alice=%v bob=%v", alice.Friends, bob.Friends)
	}
	if len(alice.Favorites) != 0 {
		t.Errorf("favorite survived block: %v", alice.Favorites)
	}
	// one-sided: the target's block list is untouched
	if bob.HasBlocked("u1") {
		t.Error("block leaked to target")
	}

	if err := s.Unblock(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	alice = load(t, s, "u1")
	if alice.HasBlocked("u2") {
		t.Error("unblock did not clear")
	}
	if alice.HasFriend("u2") {
		t.Error("unblock restored friendship")
	}
}

func TestBlockDropsPendingRequest(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice"})
	seed(t, s, models.User{UID: "u2", Username: "bob"})

	if err := s.SendRequest(ctx, load(t, s, "u2"), "u1"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := s.Block(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if reqs := load(t, s, "u1").PendingRequests; len(reqs) != 0 {
		t.Errorf("pending request survived block: %v", reqs)
	}
}

func TestRemoveFriend(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}, Favorites: []string{"u2"}})
	seed(t, s, models.User{UID: "u2", Username: "bob", Friends: []string{"u1"}})

	if err := s.Remove(ctx, "u1", "u2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	alice := load(t, s, "u1")
	bob := load(t, s, "u2")
	if alice.HasFriend("u2") || bob.HasFriend("u1") {
		t.Error("unfriend not mutual")
	}
	if len(alice.Favorites) != 0 {
		t.Error("favorite survived unfriend")
	}
	if alice.HasBlocked("u2") || bob.HasBlocked("u1") {
		t.Error("unfriend touched block lists")
	}
}

func TestSetNickname(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice", Nicknames: map[string]string{"u3": "carl"}})

	if err := s.SetNickname(ctx, "u1", "u2", "bestie"); err != nil {
		t.Fatalf("SetNickname: %v", err)
	}
	u := load(t, s, "u1")
	if u.Nicknames["u2"] != "bestie" {
		t.Errorf("nicknames = %v", u.Nicknames)
	}
	if u.Nicknames["u3"] != "carl" {
		t.Errorf("sibling nickname lost: %v", u.Nicknames)
	}

	// empty nickname clears only that entry
	if err := s.SetNickname(ctx, "u1", "u2", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	u = load(t, s, "u1")
	if _, ok := u.Nicknames["u2"]; ok {
		t.Errorf("nickname survived clear: %v", u.Nicknames)
	}
	if u.Nicknames["u3"] != "carl" {
		t.Errorf("clear removed sibling: %v", u.Nicknames)
	}
}

func TestToggleFavorite(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seed(t, s, models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}})

	if err := s.ToggleFavorite(ctx, load(t, s, "u1"), "u2"); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	if favs := load(t, s, "u1").Favorites; len(favs) != 1 || favs[0] != "u2" {
		t.Fatalf("favorites = %v", favs)
	}
	if err := s.ToggleFavorite(ctx, load(t, s, "u1"), "u2"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if favs := load(t, s, "u1").Favorites; len(favs) != 0 {
		t.Fatalf("favorites after toggle off = %v", favs)
	}
}
