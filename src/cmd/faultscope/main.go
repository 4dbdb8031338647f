// Package main provides the faultscope CLI: fault occurrence queries, fault
// statistics and keyword search over remote log captures.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faultscope/src/app"
	"faultscope/src/config"
	"faultscope/src/errkind"
	"faultscope/src/logger"
	"faultscope/src/report"
)

// cli carries the global flags and the lazily built application.
type cli struct {
	out    io.Writer
	errOut io.Writer

	configPath   string
	format       string
	forceRefresh bool
	threshold    int64
	maxBytes     int64
	maxLines     int64

	cfg    *config.Config
	log    logger.Logger
	output report.Format
	app    *app.App
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "faultscope",
		Short: "faultscope - fault occurrence extraction for vehicle log captures",
		Long: `faultscope locates the canonical log inside a capture directory, scans it
either remotely (zcat | grep over SSH) or from a local download cache, and
reports when each fault was first and last seen and how many times it was
reported and cleared.

Without ssh.host configured the captures are read from the local filesystem.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./faultscope.yaml)")
	flags.StringVar(&c.format, "format", "text", "output format: text or json")
	flags.BoolVar(&c.forceRefresh, "force-refresh", false, "discard the cached download before querying")
	flags.Int64Var(&c.threshold, "threshold", 0, "artifact size in bytes above which filtering runs remotely")
	flags.Int64Var(&c.maxBytes, "max-bytes", 0, "stop scanning after this many bytes")
	flags.Int64Var(&c.maxLines, "max-lines", 0, "stop scanning after this many lines")

	root.AddCommand(
		c.faultCmd(),
		c.statsCmd(),
		c.searchCmd(),
		c.locateCmd(),
		c.cacheCmd(),
		c.historyCmd(),
		c.viewCmd(),
		c.submitCmd(),
	)
	return root
}

// setup loads configuration and applies flag overrides.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.Planner.SizeThreshold = c.threshold
	}
	if flags.Changed("max-bytes") {
		cfg.Scan.MaxBytes = c.maxBytes
	}
	if flags.Changed("max-lines") {
		cfg.Scan.MaxLines = c.maxLines
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.output, err = report.ParseFormat(c.format); err != nil {
		return err
	}

	// The TUI owns the terminal; log lines would corrupt it.
	if tuiFlag := flags.Lookup("tui"); (tuiFlag != nil && tuiFlag.Value.String() == "true") || cmd.Name() == "view" {
		c.log = logger.NewSilentLogger()
	} else {
		c.log = logger.New(cfg.Logger("cli"))
	}
	c.cfg = cfg
	return nil
}

// engineApp builds the application on first use.
func (c *cli) engineApp(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) write(data []byte) error {
	_, err := c.out.Write(data)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit statuses.
func exitCode(err error) int {
	switch errkind.KindOf(err) {
	case errkind.InvalidInput, errkind.PredicateRenderError:
		return 2
	case errkind.ArtifactNotFound:
		return 3
	case errkind.TransportTimeout, errkind.TransportFailure:
		return 4
	default:
		return 1
	}
}
