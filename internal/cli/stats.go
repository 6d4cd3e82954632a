package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/vietddude/uptime/internal/control"
	"github.com/vietddude/uptime/internal/infra/storage"
	"github.com/vietddude/uptime/internal/monitoring/analytics"
)

var (
	statsDays   int
	statsRegion string
	statsJSON   bool
	statsJQ     string
)

var statsCmd = &cobra.Command{
	Use:   "stats <site-id>",
	Short: "Show uptime, incidents and response times of a site",
	Args:  exactArgs(1, "<site-id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		store, _, err := control.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.Sites().Get(ctx, args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("site %s not found", args[0])
			}
			return err
		}

		summary, err := analytics.NewEngine(store.Ticks()).Summary(ctx, args[0], analytics.SummaryQuery{
			Days:   statsDays,
			Region: statsRegion,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case statsJQ != "":
			return runJQ(ctx, out, statsJQ, summary)
		case statsJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.EncodeContext(ctx, summary)
		default:
			return renderSummary(out, summary, time.Now())
		}
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 1, "graph window in days")
	regionFlag(statsCmd.Flags(), &statsRegion)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the summary as JSON")
	statsCmd.Flags().StringVar(&statsJQ, "jq", "", "filter the JSON summary with a jq query")
	rootCmd.AddCommand(statsCmd)
}

func percent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func renderSummary(w io.Writer, s *analytics.Summary, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	status := analytics.StatusUnknown
	since := "-"
	if s.Streak != nil {
		status = string(s.Streak.Status)
		since = strings.TrimSpace(humanize.RelTime(s.Streak.Since, now, "", ""))
	}
	up24 := s.Stats.Uptime24h

	fmt.Fprintf(tw, "Site:\t%s\n", s.SiteID)
	fmt.Fprintf(tw, "Status:\t%s for %s\n", status, since)
	fmt.Fprintf(tw, "Uptime 24h:\t%s\n", percent(&up24))
	fmt.Fprintf(tw, "Uptime 7d:\t%s\n", percent(s.Stats.Uptime7d))
	fmt.Fprintf(tw, "Uptime 30d:\t%s\n", percent(s.Stats.Uptime30d))
	fmt.Fprintf(tw, "Incidents 24h:\t%s\n", humanize.Comma(s.Stats.Incidents24h))
	fmt.Fprintf(tw, "Avg response 24h:\t%.0fms\n", s.Stats.AvgResponseTime24h)
	fmt.Fprintf(tw, "Graph:\t%d buckets of %s\n", len(s.Graph), s.BucketWidth)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Recent) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "CHECKED\tREGION\tSTATUS\tRESPONSE")
	for _, t := range s.Recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\n",
			humanize.RelTime(t.CreatedAt, now, "ago", "from now"), t.RegionID, t.Status, t.ResponseTimeMs)
	}
	return tw.Flush()
}

// runJQ filters v through query and prints every result as JSON.
func runJQ(ctx context.Context, w io.Writer, query string, v any) error {
	q, err := gojq.Parse(query)
	if err != nil {
		return fmt.Errorf("parse jq: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return fmt.Errorf("compile jq: %w", err)
	}

	// gojq only accepts plain JSON values
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	iter := code.RunWithContext(ctx, input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if halt, ok := out.(*gojq.HaltError); ok {
			if halt.ExitCode() == 0 {
				return nil
			}
			return halt
		}
		if err, ok := out.(error); ok {
			return err
		}
		if err := enc.EncodeContext(ctx, out); err != nil {
			return err
		}
	}
}
