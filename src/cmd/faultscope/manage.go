package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"faultscope/src/faultid"
	"faultscope/src/report"
	"faultscope/src/store"
	"faultscope/src/tui"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local download cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <remote-path>",
		Short: "Drop the cached download of a remote log artifact",
		Long: `Drop the cached download of a remote log artifact so the next local-mode
query downloads it again. Use 'faultscope locate' to find the path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engineApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Engine.InvalidateCache(args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.out, "invalidated %s\n", args[0])
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(c.out, c.cfg.Cache.Dir)
			return err
		},
	})
	return cmd
}

// openStore opens the history store without dialing the log host.
func (c *cli) openStore() (store.Store, func(), error) {
	if c.app != nil {
		return c.app.Store, func() {}, nil
	}
	st, err := store.Open(c.cfg.Store.Driver, c.cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open report store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func (c *cli) historyCmd() *cobra.Command {
	var faultID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved reports, newest first",
		Long: `List saved reports, newest first. Reports are kept by the configured store
(store.driver); the default memory store forgets them when the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, done, err := c.openStore()
			if err != nil {
				return err
			}
			defer done()

			if faultID != "" {
				if faultID, err = faultid.Normalize(faultID); err != nil {
					return err
				}
			}
			rows, err := st.ListReports(cmd.Context(), faultID, limit)
			if err != nil {
				return err
			}
			data, err := report.History(rows, c.output)
			if err != nil {
				return err
			}
			return c.write(data)
		},
	}
	cmd.Flags().StringVar(&faultID, "fault", "", "only reports for this fault identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports")
	return cmd
}

func (c *cli) viewCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "view <report-id>",
		Short: "Open a saved report in the interactive viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, done, err := c.openStore()
			if err != nil {
				return err
			}
			defer done()

			r, err := st.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if printOnly {
				data, err := report.Report(*r, c.output)
				if err != nil {
					return err
				}
				return c.write(data)
			}
			return tui.Start(*r)
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the report instead of opening the viewer")
	return cmd
}
