package assets

import (
	"context"
	"strings"
	"time"

	"tollgate/internal/services"
	"tollgate/internal/store"
)

// UsageStore persists which assets each run placed on its timeline.
type UsageStore interface {
	RecordVisualUsage(ctx context.Context, rows []store.VisualUsage) error
	RecentVisualUsage(ctx context.Context, channel string, since time.Time) ([]store.VisualUsage, error)
	PruneVisualUsage(ctx context.Context, channel string, before time.Time) (int64, error)
}

// History remembers assets used by earlier runs so a channel does not repeat
// the same visuals inside the horizon. A nil History or a zero horizon
// disables it.
type History struct {
	store   UsageStore
	channel string
	horizon time.Duration
	now     func() time.Time
}

// HistoryOption customizes a History.
type HistoryOption func(*History)

// WithHistoryClock replaces the time source.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHistory builds a usage history for channel.
func NewHistory(st UsageStore, channel string, horizon time.Duration, opts ...HistoryOption) *History {
	h := &History{
		store:   st,
		channel: strings.TrimSpace(channel),
		horizon: horizon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled reports whether usage is tracked.
func (h *History) Enabled() bool {
	return h != nil && h.store != nil && h.horizon > 0
}

// Recent returns the ids used inside the horizon.
func (h *History) Recent(ctx context.Context) (map[string]struct{}, error) {
	if !h.Enabled() {
		return nil, nil
	}
	rows, err := h.store.RecentVisualUsage(ctx, h.channel, h.now().Add(-h.horizon))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "assets", "history", "load recent usage", err)
	}
	used := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		used[row.AssetID] = struct{}{}
	}
	return used, nil
}

// Record stores every asset on tl under runID.
func (h *History) Record(ctx context.Context, runID string, tl Timeline) error {
	if !h.Enabled() || len(tl.Assignments) == 0 {
		return nil
	}
	if strings.TrimSpace(runID) == "" {
		return services.Wrap(services.ErrValidation, "assets", "history", "run id required", nil)
	}
	at := h.now()
	rows := make([]store.VisualUsage, 0, len(tl.Assignments))
	for _, a := range tl.Assignments {
		rows = append(rows, store.VisualUsage{
			Channel:  h.channel,
			AssetID:  a.AssetID,
			Category: string(a.Category),
			RunID:    runID,
			UsedAt:   at,
		})
	}
	if err := h.store.RecordVisualUsage(ctx, rows); err != nil {
		return services.Wrap(services.ErrTransient, "assets", "history", "record usage", err)
	}
	return nil
}

// Prune forgets usage older than the horizon.
func (h *History) Prune(ctx context.Context) (int64, error) {
	if !h.Enabled() {
		return 0, nil
	}
	removed, err := h.store.PruneVisualUsage(ctx, h.channel, h.now().Add(-h.horizon))
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "assets", "history", "prune usage", err)
	}
	return removed, nil
}

// Without returns a copy of p minus the ids in used.
func (p Pool) Without(used map[string]struct{}) Pool {
	if len(used) == 0 {
		return p
	}
	keep := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, seen := used[id]; !seen {
				out = append(out, id)
			}
		}
		return out
	}
	return Pool{Key: keep(p.Key), Filler: keep(p.Filler)}
}
