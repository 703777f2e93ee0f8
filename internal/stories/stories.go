// Package stories implements ephemeral story publishing and the
// visibility window: a viewer sees their own and their friends'
// stories from the last window, grouped per author with the viewer's
// own group pinned first.
package stories

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
)

var (
	ErrNotAuthor  = errors.New("stories: only the author may delete a story")
	ErrEmptyStory = errors.New("stories: story has no media")
	ErrBadMedia   = errors.New("stories: media type must be image or video")
	ErrNoAudience = errors.New("stories: empty audience")
)

// DefaultWindow is how long a story stays visible to friends. The
// gallery surface keeps them around twice as long.
const (
	DefaultWindow        = 12 * time.Hour
	DefaultGalleryWindow = 24 * time.Hour
)

// Service executes story mutations and builds visibility queries.
type Service struct {
	st            store.Store
	Window        time.Duration
	GalleryWindow time.Duration
}

func NewService(st store.Store, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{st: st, Window: window, GalleryWindow: DefaultGalleryWindow}
}

// Publish writes a new story with the author snapshot frozen in.
func (s *Service) Publish(ctx context.Context, author models.User, image, mediaType string) (string, error) {
	if image == "" {
		return "", ErrEmptyStory
	}
	if mediaType != "image" && mediaType != "video" {
		return "", ErrBadMedia
	}
	story := models.Story{
		UID:       author.UID,
		Username:  author.Username,
		Profile:   author.Profile,
		Image:     image,
		MediaType: mediaType,
	}
	id := uuid.NewString()
	fields := story.Fields()
	fields["createdAt"] = store.ServerTimestamp()
	if err := s.st.WriteMerge(ctx, models.StoryPath(id), fields); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the author's own story before its window expires.
func (s *Service) Delete(ctx context.Context, callerUID, storyID string) error {
	rec, err := s.st.Get(ctx, models.StoryPath(storyID))
	if err != nil {
		return err
	}
	if models.StoryFromRecord(rec).UID != callerUID {
		return ErrNotAuthor
	}
	return s.st.Delete(ctx, rec.Path)
}

// VisibleQuery builds the viewer's story query: authors limited to the
// viewer and their friends, createdAt inside the window. The audience
// is never empty because the viewer is always in it.
func (s *Service) VisibleQuery(viewer models.User, now time.Time) store.Query {
	return s.windowQuery(viewer, now, s.Window)
}

// GalleryQuery is the wider-window variant behind the media gallery.
func (s *Service) GalleryQuery(viewer models.User, now time.Time) store.Query {
	w := s.GalleryWindow
	if w <= 0 {
		w = DefaultGalleryWindow
	}
	return s.windowQuery(viewer, now, w)
}

func (s *Service) windowQuery(viewer models.User, now time.Time, window time.Duration) store.Query {
	audience := make([]string, 0, len(viewer.Friends)+1)
	audience = append(audience, viewer.UID)
	for _, f := range viewer.Friends {
		if f != viewer.UID {
			audience = append(audience, f)
		}
	}
	cutoff := now.Add(-window).UTC().UnixNano()
	return store.Query{Collection: models.StoriesCollection, OrderDescBy: "createdAt"}.
		Where("uid", store.OpIn, audience).
		Where("createdAt", store.OpGTE, cutoff)
}

// Subscribe opens a live feed of the viewer's visible stories. The
// window cutoff is fixed at subscription time; expiry past it shows up
// on the next (re)subscription, matching how the feed screen reloads.
func (s *Service) Subscribe(viewer models.User, fn store.SnapshotFunc, onErr store.ErrorFunc) (store.Disposer, error) {
	if viewer.UID == "" {
		return nil, ErrNoAudience
	}
	return s.st.Subscribe(s.VisibleQuery(viewer, time.Now()), fn, onErr)
}

// BuildGroups folds a visible-story snapshot into per-author groups.
// The viewer's own group, when present, is pinned first; the rest keep
// the snapshot order (newest author activity first). Authors with no
// surviving stories simply do not appear.
func BuildGroups(viewerUID string, recs []store.Record) []models.StoryGroup {
	byAuthor := map[string]*models.StoryGroup{}
	order := []string{}
	for _, rec := range recs {
		story := models.StoryFromRecord(rec)
		g, ok := byAuthor[story.UID]
		if !ok {
			g = &models.StoryGroup{UID: story.UID, Username: story.Username, Profile: story.Profile}
			byAuthor[story.UID] = g
			order = append(order, story.UID)
		}
		g.Stories = append(g.Stories, story)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i] == viewerUID && order[j] != viewerUID
	})

	out := make([]models.StoryGroup, 0, len(order))
	for _, uid := range order {
		out = append(out, *byAuthor[uid])
	}
	return out
}
