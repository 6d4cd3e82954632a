package analytics

import (
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

const day = 24 * time.Hour

// BucketWidth picks the aggregation resolution for a window from the number
// of whole days it spans: up to 1 day 2m, up to 7 days 15m, up to 30 days
// 30m, beyond that 1h.
func BucketWidth(start, end time.Time) time.Duration {
	days := int64(end.Sub(start) / day)
	switch {
	case days <= 1:
		return 2 * time.Minute
	case days <= 7:
		return 15 * time.Minute
	case days <= 30:
		return 30 * time.Minute
	default:
		return time.Hour
	}
}

// Totals sums counts over buckets starting in (now-lookback, now].
type Totals struct {
	Buckets int
	Total   int64
	Down    int64
	// mean of the bucket averages
	AvgResponseTime float64
}

// Window sums the buckets that start inside (now-lookback, now].
func Window(buckets []domain.Bucket, now time.Time, lookback time.Duration) Totals {
	cutoff := now.Add(-lookback)
	var t Totals
	var avgSum float64
	for _, b := range buckets {
		if !b.Start.After(cutoff) || b.Start.After(now) {
			continue
		}
		t.Buckets++
		t.Total += b.TotalCount
		t.Down += b.DownCount
		avgSum += b.AvgResponseTime
	}
	if t.Buckets > 0 {
		t.AvgResponseTime = avgSum / float64(t.Buckets)
	}
	return t
}

// UptimePercent returns the share of non-down ticks, or 100 when there
// were no ticks at all. No data counts as no incident.
func (t Totals) UptimePercent() float64 {
	if t.Total == 0 {
		return 100.0
	}
	return float64(t.Total-t.Down) * 100 / float64(t.Total)
}
