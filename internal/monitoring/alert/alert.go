package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

// Event reports that a site's status changed as seen from one region.
type Event struct {
	SiteID         string        `json:"site_id"`
	URL            string        `json:"url"`
	RegionID       string        `json:"region_id"`
	Previous       domain.Status `json:"previous"`
	Current        domain.Status `json:"current"`
	ResponseTimeMs int64         `json:"response_time_ms"`
	At             time.Time     `json:"at"`
}

// Notifier delivers status change events. Implementations must be safe for
// concurrent use by several region workers.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to a logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier that logs through l, or the default
// logger when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "alert")}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Current == domain.StatusDown {
		level = slog.LevelWarn
	}
	n.log.Log(ctx, level, "Site status changed",
		"site", e.SiteID,
		"url", e.URL,
		"region", e.RegionID,
		"from", e.Previous,
		"to", e.Current,
		"response_time_ms", e.ResponseTimeMs,
	)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
