// Package cmd urlport 命令行
package cmd

import (
	"fmt"
	"os"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"urlport/internal/cli"
	"urlport/internal/config/loader"
	"urlport/internal/config/schema"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/metrics"
	"urlport/internal/version"
)

var (
	configFile   string
	logLevel     string
	logFormat    string
	noColor      bool
	waitTimeout  time.Duration
	maxRedirects int
	noFollow     bool
	showStats    bool
)

// cfg 由 PersistentPreRunE 加载，子命令直接使用
var cfg *schema.Root

var rootCmd = &cobra.Command{
	Use:   "urlport",
	Short: "Drive HTTP and WebSocket tasks through a blocking decision port",
	Long: `urlport runs HTTP and WebSocket operations whose callbacks block until a
consumer decides how to proceed. The consumer is either this process or a
remote peer attached over the relay.`,
	Version:            version.GetVersion(),
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: printStats,
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[PANIC] %v\n\n", r)
			fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", debug.Stack())
			os.Exit(2)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		cli.NewOutput(os.Stderr, noColor).Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file path")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug/info/warn/error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (text/json)")
	flags.BoolVar(&noColor, "no-color", false, "disable coloured output")
	flags.DurationVar(&waitTimeout, "wait-timeout", 0, "max time a callback waits for a decision (0 keeps config)")
	flags.IntVar(&maxRedirects, "max-redirects", 0, "redirect limit per task (0 keeps config)")
	flags.BoolVar(&noFollow, "no-follow", false, "do not follow redirects")
	flags.BoolVar(&showStats, "stats", false, "print bridge metrics when the command finishes")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(wsCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := loader.NewLoaderBuilder().
		WithConfigFile(configFile).
		WithOverrides(func(c *schema.Root) error { return applyFlags(cmd, c) }).
		Build().
		Load()
	if err != nil {
		return err
	}
	if err := corelog.Configure(corelog.Config{
		Level:  loaded.Log.Level,
		Format: loaded.Log.Format,
		Output: loaded.Log.Output,
		File:   loaded.Log.File,
	}); err != nil {
		return err
	}
	cfg = loaded

	if showStats {
		if err := metrics.SetGlobalMetrics(metrics.NewMemoryMetrics(cmd.Context())); err != nil {
			return err
		}
	}
	return nil
}

func printStats(cmd *cobra.Command, args []string) error {
	m := metrics.GetGlobalMetrics()
	if !showStats || m == nil {
		return nil
	}
	defer metrics.ResetGlobalMetrics()

	snapshot := m.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	out := newOutput(cmd)
	table := cli.NewTable("METRIC", "VALUE")
	for _, name := range names {
		table.AddRow(name, strconv.FormatFloat(snapshot[name], 'f', -1, 64))
	}
	out.Separator()
	table.Render(out)
	return m.Close()
}

// applyFlags 只覆盖显式设置的参数
func applyFlags(cmd *cobra.Command, c *schema.Root) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("wait-timeout") {
		c.Bridge.WaitTimeout = waitTimeout
	}
	if flags.Changed("max-redirects") {
		c.HTTP.MaxRedirects = maxRedirects
	}
	if flags.Changed("no-follow") {
		c.HTTP.FollowRedirects = !noFollow
	}
	return nil
}

func newOutput(cmd *cobra.Command) *cli.Output {
	return cli.NewOutput(cmd.OutOrStdout(), noColor)
}
