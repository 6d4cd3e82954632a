package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/uptime/internal/monitoring/scheduler"
	"github.com/vietddude/uptime/internal/monitoring/worker"
)

// =============================================================================
// Stubs
// =============================================================================

type stubPinger struct {
	err   error
	calls atomic.Int32
}

func (p *stubPinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

type stubWorker struct {
	status worker.Status
}

func (w *stubWorker) Region() string        { return w.status.Region }
func (w *stubWorker) Status() worker.Status { return w.status }

type stubScheduler struct {
	status scheduler.Status
}

func (s *stubScheduler) Status() scheduler.Status { return s.status }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMonitor(pingers map[string]Pinger, workers []WorkerSource, sched SchedulerSource) *Monitor {
	m := NewMonitor(pingers, workers, sched)
	m.now = func() time.Time { return now }
	return m
}

func idle(region string) *stubWorker {
	return &stubWorker{status: worker.Status{Region: region, State: worker.StateIdle, LastCycle: now}}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	m := newMonitor(
		map[string]Pinger{"store": &stubPinger{}, "queue.eu": &stubPinger{}},
		[]WorkerSource{idle("eu")},
		&stubScheduler{status: scheduler.Status{Schedule: "@every 30s", Runs: 3}},
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("SystemStatus = %s, want healthy", report.SystemStatus)
	}
	if len(report.Components) != 2 || report.Workers["eu"].Status != StatusHealthy {
		t.Errorf("report = %+v", report)
	}
	if report.Scheduler == nil || report.Scheduler.Scheduler.Runs != 3 {
		t.Errorf("Scheduler = %+v, want runs reported", report.Scheduler)
	}
}

func TestMonitor_Evaluation(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		worker  worker.Status
		sched   scheduler.Status
		want    SystemStatus
	}{
		{
			name:   "initial connect",
			worker: worker.Status{Region: "eu", State: worker.StateConnecting},
			want:   StatusHealthy,
		},
		{
			name:   "reconnecting after recent cycle",
			worker: worker.Status{Region: "eu", State: worker.StateConnecting, LastError: "EOF", LastCycle: now.Add(-10 * time.Second)},
			want:   StatusDegraded,
		},
		{
			name:   "reconnecting for too long",
			worker: worker.Status{Region: "eu", State: worker.StateConnecting, LastError: "EOF", LastCycle: now.Add(-5 * time.Minute)},
			want:   StatusCritical,
		},
		{
			name:   "never connected",
			worker: worker.Status{Region: "eu", State: worker.StateConnecting, LastError: "dial tcp: refused"},
			want:   StatusCritical,
		},
		{
			name:   "scheduler error",
			worker: worker.Status{Region: "eu", State: worker.StateIdle},
			sched:  scheduler.Status{LastError: "list sites: boom"},
			want:   StatusDegraded,
		},
		{
			name:    "store down",
			pingErr: errors.New("connection refused"),
			worker:  worker.Status{Region: "eu", State: worker.StateIdle},
			want:    StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonitor(
				map[string]Pinger{"store": &stubPinger{err: tt.pingErr}},
				[]WorkerSource{&stubWorker{status: tt.worker}},
				&stubScheduler{status: tt.sched},
			)
			if got := m.CheckHealth(context.Background()).SystemStatus; got != tt.want {
				t.Errorf("SystemStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	p := &stubPinger{}
	m := newMonitor(map[string]Pinger{"store": p}, nil, nil)

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if got := p.calls.Load(); got != 1 {
		t.Errorf("pings within cache TTL = %d, want 1", got)
	}

	later := now.Add(defaultCacheTTL)
	m.now = func() time.Time { return later }
	m.CheckHealth(context.Background())
	if got := p.calls.Load(); got != 2 {
		t.Errorf("pings after cache TTL = %d, want 2", got)
	}
}

func TestServer_HTTP(t *testing.T) {
	store := &stubPinger{}
	m := newMonitor(map[string]Pinger{"store": store}, []WorkerSource{idle("eu")}, nil)
	m.cacheTTL = 0
	s := NewServer(m, 0, 0)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("/health body = %v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode /health/detailed: %v", err)
	}
	if report.Workers["eu"].Worker.State != worker.StateIdle {
		t.Errorf("detailed workers = %+v", report.Workers)
	}

	store.err = errors.New("down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health with store down = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}

func TestServer_GRPCStatusFollowsReport(t *testing.T) {
	w := &stubWorker{status: worker.Status{Region: "eu", State: worker.StateIdle, LastCycle: now}}
	m := newMonitor(nil, []WorkerSource{w}, nil)
	m.cacheTTL = 0
	s := NewServer(m, 0, 0)
	ctx := context.Background()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := s.Checker().Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error = %v", service, err)
		}
		return resp.GetStatus()
	}

	m.CheckHealth(ctx)
	if got := check(WorkerService("eu")); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("worker.eu = %s, want SERVING", got)
	}

	w.status = worker.Status{Region: "eu", State: worker.StateConnecting, LastError: "EOF"}
	m.CheckHealth(ctx)
	if got := check(WorkerService("eu")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("worker.eu = %s, want NOT_SERVING", got)
	}
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %s, want NOT_SERVING", got)
	}
}

func TestServer_HTTPSurvivesGRPCListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	grpcPort := busy.Addr().(*net.TCPAddr).Port

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	httpPort := free.Addr().(*net.TCPAddr).Port
	free.Close()

	m := newMonitor(nil, []WorkerSource{idle("eu")}, nil)
	s := NewServer(m, httpPort, grpcPort)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", httpPort)
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case err := <-done:
			t.Fatalf("Start returned early: %v", err)
		default:
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("/health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health endpoint never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start() = %v, want nil after Stop", err)
	}
}
