package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule decides when the pusher fires.
type Schedule interface {
	cron.Schedule
	fmt.Stringer

	// KickOnStart reports whether to fire once immediately on startup.
	KickOnStart() bool
}

// IntervalSchedule fires at a fixed period.
type IntervalSchedule struct {
	Interval time.Duration
}

func (s IntervalSchedule) Next(t time.Time) time.Time { return t.Add(s.Interval) }
func (s IntervalSchedule) String() string             { return "every " + s.Interval.String() }
func (s IntervalSchedule) KickOnStart() bool          { return true }

// CronSchedule fires on a cron expression.
type CronSchedule struct {
	spec     string
	schedule cron.Schedule
}

func (s CronSchedule) Next(t time.Time) time.Time { return s.schedule.Next(t) }
func (s CronSchedule) String() string             { return s.spec }
func (s CronSchedule) KickOnStart() bool          { return false }

// ParseCron accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 1m".
func ParseCron(spec string) (CronSchedule, error) {
	spec = strings.TrimSpace(spec)
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return CronSchedule{spec: spec, schedule: s}, nil
}

// New picks a cron schedule when spec is set, otherwise a fixed interval.
func New(spec string, interval time.Duration) (Schedule, error) {
	if strings.TrimSpace(spec) != "" {
		return ParseCron(spec)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	return IntervalSchedule{Interval: interval}, nil
}
