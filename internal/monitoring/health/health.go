// Package health reports the liveness of the pipeline over HTTP and gRPC.
package health

import (
	"github.com/vietddude/uptime/internal/monitoring/scheduler"
	"github.com/vietddude/uptime/internal/monitoring/worker"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ComponentHealth is the health of a dependency such as the store or a queue.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// WorkerHealth is the health of one regional worker.
type WorkerHealth struct {
	Status SystemStatus  `json:"status"`
	Worker worker.Status `json:"worker"`
}

// SchedulerHealth is the health of the pusher.
type SchedulerHealth struct {
	Status    SystemStatus     `json:"status"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Workers      map[string]WorkerHealth    `json:"workers,omitempty"`
	Scheduler    *SchedulerHealth           `json:"scheduler,omitempty"`
}
