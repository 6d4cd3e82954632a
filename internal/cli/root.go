package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/uptime/internal/core/config"
)

var (
	cfgPath string
	isDebug bool

	// loaded by PersistentPreRunE
	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "uptime",
	Short: "Distributed website uptime monitor",
	Long: `uptime schedules HTTP checks for every monitored site, runs them from one
or more regions through a shared task queue and stores the results for
uptime and response time analytics.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runAll,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	loaded, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return err
	}
	cfg = loaded
	setupLogging(cfg.Logging)
	return nil
}

func setupLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if isDebug {
		level = slog.LevelDebug
	}

	if strings.EqualFold(lc.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}

	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// commandContext bounds one-shot commands.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func exactArgs(n int, names string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s %s", cmd.CommandPath(), names)
		}
		return nil
	}
}

func regionFlag(fs *pflag.FlagSet, p *string) {
	fs.StringVar(p, "region", "", "only consider ticks from this region")
}
