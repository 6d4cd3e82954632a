package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a single probe.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// ParseStatus accepts the stored form as well as lower/mixed case.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(StatusUp):
		return StatusUp, nil
	case string(StatusDown):
		return StatusDown, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// CheckResult is produced by a worker and not persisted directly.
type CheckResult struct {
	SiteID         string
	RegionID       string
	Status         Status
	ResponseTimeMs int64
	ProbedAt       time.Time

	// Diagnostics, never persisted.
	StatusCode int
	Attempts   int
	Err        error
}

// Tick is one persisted probe outcome of a site from a region.
type Tick struct {
	ID             string    `json:"id"               db:"id"`
	SiteID         string    `json:"site_id"          db:"site_id"`
	RegionID       string    `json:"region_id"        db:"region_id"`
	Status         Status    `json:"status"           db:"status"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"       db:"created_at"`
}

// Bucket aggregates ticks that floor into the same time slot.
type Bucket struct {
	Start           time.Time `json:"bucket_start"      db:"bucket_start"`
	AvgResponseTime float64   `json:"avg_response_time" db:"avg_response_time"`
	DownCount       int64     `json:"down_count"        db:"down_count"`
	TotalCount      int64     `json:"total_count"       db:"total_count"`
}

// Streak is how long the current status of a site has held.
type Streak struct {
	Status   Status        `json:"status"`
	Since    time.Time     `json:"since"`
	Duration time.Duration `json:"duration"`
}

// Seconds returns the streak duration in whole seconds.
func (s Streak) Seconds() int64 {
	return int64(s.Duration / time.Second)
}
