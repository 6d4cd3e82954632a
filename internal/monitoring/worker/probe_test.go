package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

// stubTransport fails the first failures calls, then answers with code.
type stubTransport struct {
	calls    atomic.Int32
	failures int32
	code     int
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := s.calls.Add(1)
	if s.failures < 0 || n <= s.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &http.Response{
		StatusCode: s.code,
		Body:       http.NoBody,
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func testProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout:     time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}
}

func TestProbe_StatusClassification(t *testing.T) {
	tests := []struct {
		code int
		want domain.Status
	}{
		{200, domain.StatusUp},
		{204, domain.StatusUp},
		{304, domain.StatusUp},
		{404, domain.StatusDown},
		{500, domain.StatusDown},
		{503, domain.StatusDown},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		p := NewProber(testProbeConfig(), nil)
		res := p.Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: srv.URL})
		srv.Close()

		if res.Status != tt.want {
			t.Errorf("code %d: status = %s, want %s", tt.code, res.Status, tt.want)
		}
		// HTTP responses are final, never retried.
		if res.Attempts != 1 {
			t.Errorf("code %d: attempts = %d, want 1", tt.code, res.Attempts)
		}
		if res.StatusCode != tt.code {
			t.Errorf("code %d: recorded status code %d", tt.code, res.StatusCode)
		}
	}
}

func TestProbe_RetryBound(t *testing.T) {
	for _, attempts := range []int{1, 3, 5} {
		stub := &stubTransport{failures: -1}
		cfg := testProbeConfig()
		cfg.MaxAttempts = attempts

		res := NewProber(cfg, stub).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: "unreachable.invalid"})

		if res.Status != domain.StatusDown {
			t.Errorf("attempts=%d: status = %s, want DOWN", attempts, res.Status)
		}
		if got := int(stub.calls.Load()); got != attempts {
			t.Errorf("attempts=%d: transport called %d times", attempts, got)
		}
		if res.Attempts != attempts {
			t.Errorf("attempts=%d: result reports %d attempts", attempts, res.Attempts)
		}
		if res.Err == nil {
			t.Errorf("attempts=%d: expected last transport error", attempts)
		}
	}
}

func TestProbe_RecoversWithinRetries(t *testing.T) {
	stub := &stubTransport{failures: 2, code: http.StatusOK}
	res := NewProber(testProbeConfig(), stub).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: "example.com"})

	if res.Status != domain.StatusUp {
		t.Fatalf("status = %s, want UP", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.Err != nil {
		t.Errorf("expected error cleared after success, got %v", res.Err)
	}
}

func TestProbe_ResponseTimeIncludesRetries(t *testing.T) {
	stub := &stubTransport{failures: -1}
	cfg := testProbeConfig()
	cfg.RetryDelay = 25 * time.Millisecond

	res := NewProber(cfg, stub).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: "example.com"})
	if res.ResponseTimeMs < 50 {
		t.Errorf("response time %dms should cover two retry delays", res.ResponseTimeMs)
	}
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testProbeConfig()
	cfg.Timeout = 30 * time.Millisecond

	res := NewProber(cfg, nil).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: srv.URL})
	if res.Status != domain.StatusDown {
		t.Fatalf("status = %s, want DOWN", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if !IsTimeout(res.Err) {
		t.Errorf("expected timeout error, got %v", res.Err)
	}
}

func TestProbe_RedirectLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	res := NewProber(testProbeConfig(), nil).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: srv.URL})
	if res.StatusCode != http.StatusFound {
		t.Errorf("expected the last redirect response, got %d (%v)", res.StatusCode, res.Err)
	}
	if res.Status != domain.StatusUp {
		t.Errorf("3xx should classify as UP, got %s", res.Status)
	}
	if got := hits.Load(); got != maxRedirects {
		t.Errorf("expected %d requests, got %d", maxRedirects, got)
	}
}

func TestProbe_InvalidURL(t *testing.T) {
	stub := &stubTransport{code: http.StatusOK}
	res := NewProber(testProbeConfig(), stub).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: "ftp://files.example"})
	if res.Status != domain.StatusDown || res.Attempts != 0 {
		t.Errorf("got %s after %d attempts, want DOWN after 0", res.Status, res.Attempts)
	}
	if stub.calls.Load() != 0 {
		t.Error("invalid url must not reach the network")
	}
}

func TestProbe_UserAgent(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
	}))
	defer srv.Close()

	cfg := testProbeConfig()
	cfg.UserAgent = "Uptime-Test/1.0"
	NewProber(cfg, nil).Probe(context.Background(), domain.CheckTask{SiteID: "s", URL: srv.URL})
	if got, _ := ua.Load().(string); got != "Uptime-Test/1.0" {
		t.Errorf("user agent = %q", got)
	}
}
