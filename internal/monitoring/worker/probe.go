package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/observability"
)

// ProbeConfig defines probe behaviour.
type ProbeConfig struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int           // total attempts on transport errors
	RetryDelay  time.Duration // fixed delay between attempts
	UserAgent   string
}

// DefaultProbeConfig provides production defaults.
var DefaultProbeConfig = ProbeConfig{
	Timeout:     10 * time.Second,
	MaxAttempts: 3,
	RetryDelay:  500 * time.Millisecond,
	UserAgent:   "Uptime-Worker/1.0",
}

const maxRedirects = 5

// Prober performs HTTP GET checks.
type Prober struct {
	cfg    ProbeConfig
	client *http.Client
}

// NewProber builds a prober. A nil transport uses http.DefaultTransport.
func NewProber(cfg ProbeConfig, transport http.RoundTripper) *Prober {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeConfig.Timeout
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Prober{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Classify maps an HTTP status code to a probe status.
func Classify(code int) domain.Status {
	if code >= 200 && code < 400 {
		return domain.StatusUp
	}
	return domain.StatusDown
}

// Probe checks one task. Only transport errors are retried; any HTTP
// response is final. The returned result carries no region.
func (p *Prober) Probe(ctx context.Context, task domain.CheckTask) (res domain.CheckResult) {
	ctx, span := observability.StartSpan(ctx, "worker.probe",
		attribute.String("site.id", task.SiteID),
		attribute.String("site.url", task.URL),
	)
	defer span.End()

	start := time.Now()
	res = domain.CheckResult{
		SiteID:   task.SiteID,
		Status:   domain.StatusDown,
		ProbedAt: start,
	}
	defer func() {
		res.ResponseTimeMs = time.Since(start).Milliseconds()
		span.SetAttributes(
			attribute.String("probe.status", string(res.Status)),
			attribute.Int("probe.attempts", res.Attempts),
			attribute.Int("http.status_code", res.StatusCode),
		)
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	target, err := NormalizeURL(task.URL)
	if err != nil {
		res.Err = err
		return res
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		code, err := p.attempt(ctx, target)
		if err == nil {
			res.StatusCode = code
			res.Status = Classify(code)
			res.Err = nil
			return res
		}
		res.Err = err

		if ctx.Err() != nil || attempt == p.cfg.MaxAttempts {
			break
		}
		if !sleep(ctx, p.cfg.RetryDelay) {
			break
		}
	}
	return res
}

func (p *Prober) attempt(ctx context.Context, target string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// IsTimeout reports whether a probe error was a per-attempt timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// sleep waits for d or until ctx is done, reporting whether it waited fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
