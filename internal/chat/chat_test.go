package chat

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
	return NewService(db, "#0078d4", "👍")
}

func seedUser(t *testing.T, s *Service, u models.User) {
	t.Helper()
	if err := s.st.WriteMerge(context.Background(), models.UserPath(u.UID), u.Fields()); err != nil {
		t.Fatalf("seed %s: %v", u.UID, err)
	}
}

var (
	alice  = models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}}
	bob    = models.User{UID: "u2", Username: "bob", Friends: []string{"u1"}}
	direct = models.Conversation{ID: "u1_u2", PeerUID: "u2"}
)

func TestSendAndLoad(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	id, err := s.Send(ctx, direct, alice, SendInput{Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec, err := s.st.Get(ctx, models.MessagePath("u1_u2", id))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	msg := models.MessageFromRecord(rec)
	if msg.Text != "hello" || msg.UID != "u1" || msg.DisplayName != "alice" {
		t.Errorf("message = %+v", msg)
	}
	if msg.IsRead {
		t.Error("new message born read")
	}
	if msg.CreatedAt <= 0 {
		t.Error("createdAt not assigned")
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Send(context.Background(), direct, alice, SendInput{}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSendBlockedEitherDirection(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	blockedBob := bob
	blockedBob.BlockedUsers = []string{"u1"}
	seedUser(t, s, alice)
	seedUser(t, s, blockedBob)

	if _, err := s.Send(ctx, direct, alice, SendInput{Text: "hi"}); !errors.Is(err, ErrBlocked) {
		t.Fatalf("peer block: err = %v, want ErrBlocked", err)
	}

	blockingAlice := alice
	blockingAlice.BlockedUsers = []string{"u2"}
	if _, err := s.Send(ctx, direct, blockingAlice, SendInput{Text: "hi"}); !errors.Is(err, ErrBlocked) {
		t.Fatalf("own block: err = %v, want ErrBlocked", err)
	}
}

func TestReplySnapshot(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	target, err := s.Send(ctx, direct, bob, SendInput{Text: "original"})
	if err != nil {
		t.Fatalf("Send target: %v", err)
	}

	id, err := s.Send(ctx, direct, alice, SendInput{Text: "reply", ReplyToID: target})
	if err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", id))
	msg := models.MessageFromRecord(rec)
	if msg.ReplyTo == nil {
		t.Fatal("reply snapshot missing")
	}
	if msg.ReplyTo.ID != target || msg.ReplyTo.Text != "original" || msg.ReplyTo.DisplayName != "bob" {
		t.Errorf("snapshot = %+v", msg.ReplyTo)
	}

	// editing the target does not touch the frozen snapshot
	if err := s.Edit(ctx, "u1_u2", target, "u2", "rewritten"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	rec, _ = s.st.Get(ctx, models.MessagePath("u1_u2", id))
	if got := models.MessageFromRecord(rec).ReplyTo.Text; got != "original" {
		t.Errorf("snapshot refreshed to %q", got)
	}
}

func TestReplyToImagePlaceholder(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	target, err := s.Send(ctx, direct, bob, SendInput{Image: "https://cdn.example/x.jpg", ImageWidth: 640, ImageHeight: 480})
	if err != nil {
		t.Fatalf("Send image: %v", err)
	}
	id, err := s.Send(ctx, direct, alice, SendInput{Text: "nice", ReplyToID: target})
	if err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", id))
	if got := models.MessageFromRecord(rec).ReplyTo.Text; got != "Image" {
		t.Errorf("snapshot text = %q, want Image", got)
	}
}

func TestEditRules(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	textID, _ := s.Send(ctx, direct, alice, SendInput{Text: "tpyo"})
	imageID, _ := s.Send(ctx, direct, alice, SendInput{Image: "https://cdn.example/x.jpg"})

	if err := s.Edit(ctx, "u1_u2", textID, "u2", "hijack"); !errors.Is(err, ErrNotSender) {
		t.Fatalf("foreign edit: err = %v, want ErrNotSender", err)
	}
	if err := s.Edit(ctx, "u1_u2", imageID, "u1", "caption"); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("image edit: err = %v, want ErrNotEditable", err)
	}

	before, _ := s.st.Get(ctx, models.MessagePath("u1_u2", textID))
	created := models.MessageFromRecord(before).CreatedAt

	if err := s.Edit(ctx, "u1_u2", textID, "u1", "typo"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", textID))
	msg := models.MessageFromRecord(rec)
	if msg.Text != "typo" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.EditedAt == 0 {
		t.Error("editedAt not stamped")
	}
	if msg.CreatedAt != created {
		t.Error("createdAt changed by edit")
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	id, _ := s.Send(ctx, direct, alice, SendInput{Text: "gone soon"})

	if err := s.DeleteMessage(ctx, "u1_u2", id, "u2"); !errors.Is(err, ErrNotSender) {
		t.Fatalf("foreign delete: err = %v, want ErrNotSender", err)
	}
	if err := s.DeleteMessage(ctx, "u1_u2", id, "u1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := s.st.Get(ctx, models.MessagePath("u1_u2", id)); err == nil {
		t.Fatal("message survived delete")
	}
}

func TestReactToggle(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	id, _ := s.Send(ctx, direct, alice, SendInput{Text: "react to me"})

	reactions := func() map[string][]string {
		rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", id))
		return models.MessageFromRecord(rec).Reactions
	}

	s.React(ctx, "u1_u2", id, "u1", "❤️")
	s.React(ctx, "u1_u2", id, "u2", "❤️")
	rx := reactions()
	if len(rx["❤️"]) != 2 {
		t.Fatalf("reactions = %v", rx)
	}

	// toggling off removes just the caller
	s.React(ctx, "u1_u2", id, "u1", "❤️")
	rx = reactions()
	if len(rx["❤️"]) != 1 || rx["❤️"][0] != "u2" {
		t.Fatalf("after toggle: %v", rx)
	}

	// last reactor leaving drops the emoji key entirely
	s.React(ctx, "u1_u2", id, "u2", "❤️")
	rx = reactions()
	if _, ok := rx["❤️"]; ok {
		t.Fatalf("emptied emoji key still present: %v", rx)
	}
}

func TestReactPreservesOtherFields(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	id, _ := s.Send(ctx, direct, alice, SendInput{Text: "hello"})
	s.React(ctx, "u1_u2", id, "u2", "👍")

	rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", id))
	msg := models.MessageFromRecord(rec)
	if msg.Text != "hello" || msg.UID != "u1" {
		t.Errorf("reaction write clobbered message: %+v", msg)
	}
}

func TestSettingsDefaultsAndMerge(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	got, err := s.Settings(ctx, "u1_u2")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got.Color != "#0078d4" || got.Emoji != "👍" {
		t.Errorf("defaults = %+v", got)
	}

	if err := s.UpdateSettings(ctx, "u1_u2", "#ff0000", ""); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	got, _ = s.Settings(ctx, "u1_u2")
	if got.Color != "#ff0000" {
		t.Errorf("color = %q", got.Color)
	}
	if got.Emoji != "👍" {
		t.Errorf("partial update lost emoji default: %q", got.Emoji)
	}

	if err := s.UpdateSettings(ctx, "u1_u2", "", "🔥"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	got, _ = s.Settings(ctx, "u1_u2")
	if got.Color != "#ff0000" || got.Emoji != "🔥" {
		t.Errorf("merged settings = %+v", got)
	}
}

func TestSendQuickEmoji(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	seedUser(t, s, bob)
	ctx := context.Background()

	if err := s.UpdateSettings(ctx, "u1_u2", "", "🔥"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	id, err := s.SendQuickEmoji(ctx, direct, alice)
	if err != nil {
		t.Fatalf("SendQuickEmoji: %v", err)
	}
	rec, _ := s.st.Get(ctx, models.MessagePath("u1_u2", id))
	if got := models.MessageFromRecord(rec).Text; got != "🔥" {
		t.Errorf("quick emoji text = %q", got)
	}
}

func TestGroupMembershipEnforced(t *testing.T) {
	s := newTestService(t)
	seedUser(t, s, alice)
	ctx := context.Background()

	group := models.Conversation{ID: "g1", IsGroup: true, Members: []string{"u2", "u3"}}
	if _, err := s.Send(ctx, group, alice, SendInput{Text: "hi"}); !errors.Is(err, ErrNotMember) {
		t.Fatalf("err = %v, want ErrNotMember", err)
	}

	group.Members = append(group.Members, "u1")
	if _, err := s.Send(ctx, group, alice, SendInput{Text: "hi"}); err != nil {
		t.Fatalf("member send: %v", err)
	}
}
