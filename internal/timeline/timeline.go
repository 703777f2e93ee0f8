// Package timeline turns the raw message set of one conversation into
// the display-ready, date-separated sequence and issues the batched
// read-receipt write.
package timeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
	"kirimin/server/internal/telemetry"
	"kirimin/server/internal/utils"
)

const blockedLinkPlaceholder = "This link is not allowed."

// Build produces the annotated timeline for an inverted-scroll list:
// newest entries first, with a synthetic date separator preceding the
// first message of each calendar day. The input may arrive in any
// order; entries are sorted by (createdAt, id) so every permutation of
// the same content yields the same output.
func Build(msgs []models.Message, now time.Time, loc *time.Location, blockedDomains []string) []models.TimelineItem {
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	items := make([]models.TimelineItem, 0, len(sorted)+4)
	var lastDay string
	for _, m := range sorted {
		day := time.Unix(0, m.CreatedAt).In(loc)
		dayKey := day.Format("2006-01-02")
		if dayKey != lastDay {
			items = append(items, models.TimelineItem{
				Type:      models.EntryDateSeparator,
				ID:        "separator-" + dayKey,
				Date:      dayKey,
				DateLabel: dayLabel(day, now.In(loc)),
			})
			lastDay = dayKey
		}
		items = append(items, models.TimelineItem{
			Type:    models.EntryMessage,
			ID:      m.ID,
			Message: view(m, blockedDomains),
		})
	}

	// reverse for the inverted list: newest first
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	telemetry.SnapshotsProcessed.Inc()
	return items
}

func view(m models.Message, blockedDomains []string) *models.MessageView {
	v := &models.MessageView{Message: m}
	if m.Text != "" && utils.HasBlockedLink(m.Text, blockedDomains) {
		v.BlockedLink = true
		v.Text = blockedLinkPlaceholder
	}
	return v
}

func dayLabel(day, now time.Time) string {
	sameDay := func(a, b time.Time) bool {
		return a.Year() == b.Year() && a.YearDay() == b.YearDay()
	}
	switch {
	case sameDay(day, now):
		return "Today"
	case sameDay(day, now.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() != now.Year():
		return day.Format("January 2, 2006")
	default:
		return day.Format("January 2")
	}
}

// MarkRead flips isRead on every unread message not authored by the
// viewer, as one batch. An empty set issues no write at all: a no-op
// mutation would re-notify the sender for nothing. Returns the number
// of messages marked.
func MarkRead(ctx context.Context, st store.Store, chatID, viewerUID string, msgs []models.Message) (int, error) {
	var ops []store.Op
	for _, m := range msgs {
		if m.UID == viewerUID || m.IsRead {
			continue
		}
		ops = append(ops, store.Op{
			Kind:   store.OpMerge,
			Path:   models.MessagePath(chatID, m.ID),
			Fields: map[string]any{"isRead": true},
		})
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := st.BatchWrite(ctx, ops); err != nil {
		// the next store snapshot is authoritative; the optimistic
		// local state reconciles silently
		logger.Log.Warn("read_batch_failed", zap.String("chat", chatID), zap.Error(err))
		return 0, err
	}
	telemetry.ReadBatchWrites.Inc()
	return len(ops), nil
}
