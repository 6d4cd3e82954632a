package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/monitoring/analytics"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRenderSites(t *testing.T) {
	site := &domain.Site{ID: "s1", URL: "https://example.com"}
	overviews := []*analytics.Overview{
		{Site: &domain.Site{ID: "s0", URL: "https://new.example.com"}, Status: analytics.StatusUnknown},
		{
			Site:   site,
			Status: "DOWN",
			Latest: &domain.Tick{Status: domain.StatusDown, ResponseTimeMs: 42, CreatedAt: now.Add(-time.Minute)},
			Streak: &domain.Streak{Status: domain.StatusDown, Since: now.Add(-3 * time.Hour)},
		},
	}

	var buf bytes.Buffer
	if err := renderSites(&buf, overviews, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ID", "https://new.example.com", "unknown", "DOWN", "42ms", "1 minute ago", "3 hours"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	up7 := 99.5
	s := &analytics.Summary{
		SiteID:      "s1",
		BucketWidth: 2 * time.Minute,
		Graph:       []domain.Bucket{{Start: now, TotalCount: 1}},
		Stats: analytics.Stats{
			Uptime24h:          100,
			Uptime7d:           &up7,
			Incidents24h:       1200,
			AvgResponseTime24h: 123.4,
		},
		Recent: []*domain.Tick{{RegionID: "eu", Status: domain.StatusUp, ResponseTimeMs: 80, CreatedAt: now.Add(-2 * time.Minute)}},
		Streak: &domain.Streak{Status: domain.StatusUp, Since: now.Add(-48 * time.Hour)},
	}

	var buf bytes.Buffer
	if err := renderSummary(&buf, s, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"UP for 2 days", "100.00%", "99.50%", "n/a", "1,200", "123ms", "1 buckets of 2m0s", "eu", "80ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunJQ(t *testing.T) {
	s := &analytics.Summary{SiteID: "s1", Stats: analytics.Stats{Uptime24h: 97.5}}

	var buf bytes.Buffer
	if err := runJQ(context.Background(), &buf, ".stats.uptime_24h, .site_id", s); err != nil {
		t.Fatalf("runJQ() error = %v", err)
	}
	if got, want := buf.String(), "97.5\n\"s1\"\n"; got != want {
		t.Errorf("runJQ() = %q, want %q", got, want)
	}

	if err := runJQ(context.Background(), &buf, ".[", s); err == nil {
		t.Error("runJQ() should reject an invalid query")
	}
	if err := runJQ(context.Background(), &buf, `error("boom")`, s); err == nil {
		t.Error("runJQ() should surface runtime errors")
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("uptime %s: %v", strings.Join(args, " "), err)
	}
	return buf.String()
}

func TestCommands_SitesAndStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  driver: sqlite\n  url: " + filepath.Join(dir, "uptime.db") + "\nqueue:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	if out := execute(t, "--config", path, "migrate"); !strings.Contains(out, "schema version 1") {
		t.Errorf("migrate output = %q", out)
	}

	id := strings.TrimSpace(execute(t, "--config", path, "sites", "add", "https://example.com"))
	if id == "" {
		t.Fatal("sites add printed no id")
	}

	if out := execute(t, "--config", path, "sites", "list"); !strings.Contains(out, "https://example.com") || !strings.Contains(out, "unknown") {
		t.Errorf("sites list output = %q", out)
	}

	if out := execute(t, "--config", path, "stats", id, "--jq", ".stats.uptime_24h"); out != "100\n" {
		t.Errorf("stats --jq output = %q, want 100", out)
	}

	execute(t, "--config", path, "sites", "delete", id)
	if out := execute(t, "--config", path, "sites", "list"); strings.Contains(out, id) {
		t.Errorf("deleted site still listed:\n%s", out)
	}
}
