// Package main provides the quota-monitor CLI application.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xmhha/quota-monitor/pkg/config"
)

// version is set during build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath  string
	dataDirs    []string
	plan        string
	customLimit int
	tick        time.Duration
	timezone    string
	dbPath      string
	logLevel    string
	format      string
	noColor     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	watch := &watchCommand{root: opts}

	root := &cobra.Command{
		Use:   "quota-monitor",
		Short: "Live Claude Code usage and quota monitor",
		Long: "quota-monitor reads Claude Code usage logs, groups them into 5-hour billing blocks, " +
			"and predicts when the current block will run out of tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Without a subcommand the live view starts.
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch.run(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default: search standard locations)")
	pf.StringSliceVar(&opts.dataDirs, "data-dir", nil, "Claude projects directory (repeatable)")
	pf.StringVarP(&opts.plan, "plan", "p", "", "plan: pro, max5, max20, custom or auto")
	pf.IntVar(&opts.customLimit, "custom-limit", 0, "token limit for the custom plan (0 = estimate from history)")
	pf.DurationVar(&opts.tick, "tick", 0, "refresh interval, between 50ms and 10s")
	pf.StringVar(&opts.timezone, "timezone", "", "display time zone (IANA name or Local)")
	pf.StringVar(&opts.dbPath, "db", "", "history database path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVarP(&opts.format, "format", "f", "", "output format: table, json, simple")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	watch.addFlags(root)

	root.AddCommand(
		newWatchCmd(watch),
		newBlocksCmd(opts),
		newPlansCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("quota-monitor %s\n", version))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "quota-monitor %s\n", version)
			return err
		},
	}
}

// loadConfig loads the configuration and applies flags that were set
// explicitly on the command line.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.NewLoader(opts.configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDirs = opts.dataDirs
	}
	if flags.Changed("plan") {
		cfg.Plan.Name = strings.ToLower(strings.TrimSpace(opts.plan))
	}
	if flags.Changed("custom-limit") {
		cfg.Plan.CustomLimit = opts.customLimit
	}
	if flags.Changed("tick") {
		cfg.Source.TickInterval = opts.tick
	}
	if flags.Changed("timezone") {
		cfg.Time.Timezone = opts.timezone
	}
	if flags.Changed("db") {
		cfg.Storage.DBPath = opts.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("format") {
		cfg.Display.Format = opts.format
	}
	if opts.noColor {
		cfg.Display.Color = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
