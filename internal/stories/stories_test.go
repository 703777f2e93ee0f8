package stories

import (
	"context"
	"errors"
	"testing"
	"time"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/store/pebbledoc"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := pebbledoc.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, 12*time.Hour)
}

func TestPublishAndDelete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	author := models.User{UID: "u1", Username: "alice"}

	id, err := s.Publish(ctx, author, "https://cdn.example/a.jpg", "image")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec, err := s.st.Get(ctx, models.StoryPath(id))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	story := models.StoryFromRecord(rec)
	if story.UID != "u1" || story.Username != "alice" || story.MediaType != "image" {
		t.Errorf("story = %+v", story)
	}
	if story.CreatedAt <= 0 {
		t.Error("createdAt not assigned")
	}

	if err := s.Delete(ctx, "u2", id); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("foreign delete: err = %v, want ErrNotAuthor", err)
	}
	if err := s.Delete(ctx, "u1", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.st.Get(ctx, models.StoryPath(id)); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("story survived delete")
	}
}

func TestPublishValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	author := models.User{UID: "u1", Username: "alice"}

	if _, err := s.Publish(ctx, author, "", "image"); !errors.Is(err, ErrEmptyStory) {
		t.Errorf("empty media: err = %v", err)
	}
	if _, err := s.Publish(ctx, author, "https://cdn.example/a.gif", "gif"); !errors.Is(err, ErrBadMedia) {
		t.Errorf("bad media type: err = %v", err)
	}
}

func TestVisibleQueryWindow(t *testing.T) {
	s := newTestService(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	viewer := models.User{UID: "u1", Friends: []string{"u2"}}
	q := s.VisibleQuery(viewer, now)

	rec := func(uid string, age time.Duration) store.Record {
		return store.Record{
			Path: "stories/x",
			Fields: map[string]any{
				"uid":       uid,
				"createdAt": float64(now.Add(-age).UnixNano()),
			},
		}
	}

	if !q.Matches(rec("u1", time.Hour)) {
		t.Error("own fresh story filtered out")
	}
	if !q.Matches(rec("u2", 11*time.Hour)) {
		t.Error("friend story inside window filtered out")
	}
	if q.Matches(rec("u2", 13*time.Hour)) {
		t.Error("expired story visible")
	}
	if q.Matches(rec("u3", time.Hour)) {
		t.Error("stranger story visible")
	}

	// the gallery keeps stories around past the feed window
	g := s.GalleryQuery(viewer, now)
	if !g.Matches(rec("u2", 13*time.Hour)) {
		t.Error("13h story missing from gallery")
	}
	if g.Matches(rec("u2", 25*time.Hour)) {
		t.Error("expired story in gallery")
	}
}

func TestBuildGroupsOwnFirst(t *testing.T) {
	recs := []store.Record{
		{Path: "stories/s1", Fields: map[string]any{"uid": "u2", "username": "bob", "createdAt": float64(300)}},
		{Path: "stories/s2", Fields: map[string]any{"uid": "u1", "username": "alice", "createdAt": float64(200)}},
		{Path: "stories/s3", Fields: map[string]any{"uid": "u3", "username": "carol", "createdAt": float64(100)}},
		{Path: "stories/s4", Fields: map[string]any{"uid": "u2", "username": "bob", "createdAt": float64(50)}},
	}

	groups := BuildGroups("u1", recs)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if groups[0].UID != "u1" {
		t.Errorf("own group not first: %s", groups[0].UID)
	}
	// the rest keep snapshot order
	if groups[1].UID != "u2" || groups[2].UID != "u3" {
		t.Errorf("order = [%s %s %s]", groups[0].UID, groups[1].UID, groups[2].UID)
	}
	if len(groups[1].Stories) != 2 {
		t.Errorf("bob's stories = %d, want 2", len(groups[1].Stories))
	}
}

func TestBuildGroupsEmptyAuthorsAbsent(t *testing.T) {
	groups := BuildGroups("u1", nil)
	if len(groups) != 0 {
		t.Fatalf("groups from empty snapshot = %v", groups)
	}
}

func TestSubscribeDeliversLiveFeed(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	viewer := models.User{UID: "u1", Username: "alice", Friends: []string{"u2"}}

	var snapshots int
	var last []store.Record
	dispose, err := s.Subscribe(viewer, func(recs []store.Record) {
		snapshots++
		last = recs
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer dispose()

	if snapshots != 1 || len(last) != 0 {
		t.Fatalf("initial: snapshots=%d recs=%d", snapshots, len(last))
	}

	if _, err := s.Publish(ctx, models.User{UID: "u2", Username: "bob"}, "https://cdn.example/b.jpg", "image"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("friend story not delivered: %d recs", len(last))
	}
}
