package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vietddude/uptime/internal/control"
	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/monitoring/analytics"
)

var (
	siteOwner  string
	siteRegion string
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage monitored sites",
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Start monitoring a URL",
	Args:  exactArgs(1, "<url>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid url %q", args[0])
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		store, _, err := control.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		site := &domain.Site{URL: args[0], OwnerID: siteOwner}
		if err := store.Sites().Create(ctx, site); err != nil {
			return fmt.Errorf("create site: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), site.ID)
		return nil
	},
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored sites with their latest status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		store, _, err := control.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		sites, err := store.Sites().List(ctx)
		if err != nil {
			return fmt.Errorf("list sites: %w", err)
		}
		overviews, err := overview(ctx, analytics.NewEngine(store.Ticks()), sites, siteRegion)
		if err != nil {
			return err
		}
		return renderSites(cmd.OutOrStdout(), overviews, time.Now())
	},
}

var sitesDeleteCmd = &cobra.Command{
	Use:   "delete <site-id>",
	Short: "Stop monitoring a site and drop its history",
	Args:  exactArgs(1, "<site-id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		store, _, err := control.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Sites().Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("delete site %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	sitesAddCmd.Flags().StringVar(&siteOwner, "owner", "", "owner id")
	regionFlag(sitesListCmd.Flags(), &siteRegion)
	sitesCmd.AddCommand(sitesAddCmd, sitesListCmd, sitesDeleteCmd)
	rootCmd.AddCommand(sitesCmd)
}

func overview(ctx context.Context, e *analytics.Engine, sites []*domain.Site, region string) ([]*analytics.Overview, error) {
	out := make([]*analytics.Overview, 0, len(sites))
	for _, s := range sites {
		o, err := e.Overview(ctx, s, region)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", s.ID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func renderSites(w io.Writer, overviews []*analytics.Overview, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL\tSTATUS\tRESPONSE\tCHECKED\tSINCE")
	for _, o := range overviews {
		response, checked, since := "-", "-", "-"
		if o.Latest != nil {
			response = fmt.Sprintf("%dms", o.Latest.ResponseTimeMs)
			checked = humanize.RelTime(o.Latest.CreatedAt, now, "ago", "from now")
		}
		if o.Streak != nil {
			since = strings.TrimSpace(humanize.RelTime(o.Streak.Since, now, "", ""))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.Site.ID, o.Site.URL, o.Status, response, checked, since)
	}
	return tw.Flush()
}
