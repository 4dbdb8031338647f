package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"faultscope/src/contracts"
	"faultscope/src/keyword"
	"faultscope/src/pipeline"
	"faultscope/src/report"
	"faultscope/src/tui"
)

// queryFlags are shared by the fault, stats and search commands.
type queryFlags struct {
	base     string
	keywords []string
	logic    string
	fuzzy    bool
	tui      bool
}

func (q *queryFlags) register(cmd *cobra.Command, withTUI bool) {
	cmd.Flags().StringVarP(&q.base, "base", "b", "", "capture directory to search for the snapshot log (required)")
	cmd.Flags().StringArrayVarP(&q.keywords, "keyword", "k", nil, "keyword a line must contain (repeatable)")
	cmd.Flags().StringVar(&q.logic, "logic", "and", "how keywords combine: and or or")
	cmd.Flags().BoolVar(&q.fuzzy, "fuzzy", false, "case-insensitive keyword matching")
	if withTUI {
		cmd.Flags().BoolVar(&q.tui, "tui", false, "show the result in the interactive viewer")
	}
	_ = cmd.MarkFlagRequired("base")
}

func (c *cli) options(q *queryFlags) (pipeline.Options, error) {
	logic, err := keyword.ParseLogic(q.logic)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Keywords:     q.keywords,
		Logic:        logic,
		Fuzzy:        q.fuzzy,
		ForceRefresh: c.forceRefresh,
	}, nil
}

func (c *cli) faultCmd() *cobra.Command {
	var q queryFlags
	var workers int

	cmd := &cobra.Command{
		Use:   "fault <fault-id> [fault-id...]",
		Short: "Report the occurrences of one or more fault identifiers",
		Long: `Report when a fault was first and last seen, how many times it went from
reported to cleared and the highest level it carried.

Identifiers may be written as 0x0165, 0X165 or 165 (bare digits are hex).
Several identifiers run in parallel and share one download of the log.

Example:
  faultscope fault 0x0165 --base /data/captures/run-42
  faultscope fault 0165 0200 --base /data/captures/run-42 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(&q)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 {
				query := pipeline.FaultQuery{BasePath: q.base, FaultID: args[0], Options: opts}
				run := func(ctx context.Context) (*contracts.Report, error) {
					a, err := c.engineApp(ctx)
					if err != nil {
						return nil, err
					}
					return a.Engine.QueryFault(ctx, query)
				}
				return c.runReport(ctx, &q, "Querying "+args[0], run)
			}

			a, err := c.engineApp(ctx)
			if err != nil {
				return err
			}
			queries := make([]pipeline.FaultQuery, len(args))
			for i, id := range args {
				queries[i] = pipeline.FaultQuery{BasePath: q.base, FaultID: id, Options: opts}
			}
			return c.writeBatch(ctx, a.Engine.QueryMany(ctx, queries, workers))
		},
	}
	q.register(cmd, true)
	cmd.Flags().IntVar(&workers, "workers", pipeline.DefaultWorkers, "parallel queries when several identifiers are given")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report the occurrences of every fault identifier in a capture",
		Example: `  faultscope stats --base /data/captures/run-42
  faultscope stats --base /data/captures/run-42 -k brake -k sensor --logic or --fuzzy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(&q)
			if err != nil {
				return err
			}
			run := func(ctx context.Context) (*contracts.Report, error) {
				a, err := c.engineApp(ctx)
				if err != nil {
					return nil, err
				}
				return a.Engine.Stats(ctx, pipeline.StatsQuery{BasePath: q.base, Options: opts})
			}
			return c.runReport(cmd.Context(), &q, "Collecting fault statistics", run)
		},
	}
	q.register(cmd, true)
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var q queryFlags
	var contextLines, maxResults int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Print the log lines matching keywords",
		Example: `  faultscope search --base /data/captures/run-42 -k heartbeat -k brake
  faultscope search --base /data/captures/run-42 -k timeout --fuzzy -C 3 --max-results 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(&q)
			if err != nil {
				return err
			}
			a, err := c.engineApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Engine.Search(cmd.Context(), pipeline.SearchQuery{
				BasePath:     q.base,
				ContextLines: contextLines,
				MaxResults:   maxResults,
				Options:      opts,
			})
			if err != nil {
				return err
			}
			data, err := report.Search(*res, c.output)
			if err != nil {
				return err
			}
			return c.write(data)
		},
	}
	q.register(cmd, false)
	cmd.Flags().IntVarP(&contextLines, "context", "C", 0, "lines of context around each match")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "stop after this many matches (0 = no limit)")
	_ = cmd.MarkFlagRequired("keyword")
	return cmd
}

func (c *cli) locateCmd() *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Print the log artifact a query against --base would read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engineApp(cmd.Context())
			if err != nil {
				return err
			}
			artifact, err := a.Engine.Locate(cmd.Context(), base)
			if err != nil {
				return err
			}
			if c.output == report.JSON {
				data, err := json.MarshalIndent(artifact, "", "  ")
				if err != nil {
					return err
				}
				return c.write(append(data, '\n'))
			}
			_, err = fmt.Fprintf(c.out, "%s\t%s\t%d bytes\n", artifact.Path, artifact.Kind, artifact.SizeBytes)
			return err
		},
	}
	cmd.Flags().StringVarP(&base, "base", "b", "", "capture directory (required)")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

// runReport executes run, saves the report to history and prints it or opens
// the viewer.
func (c *cli) runReport(ctx context.Context, q *queryFlags, stage string, run func(context.Context) (*contracts.Report, error)) error {
	if q.tui {
		return tui.StartLoading(stage, func() (contracts.Report, error) {
			r, err := run(ctx)
			if err != nil {
				return contracts.Report{}, err
			}
			c.save(ctx, r)
			return *r, nil
		})
	}

	r, err := run(ctx)
	if err != nil {
		return err
	}
	c.save(ctx, r)
	data, err := report.Report(*r, c.output)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *cli) save(ctx context.Context, r *contracts.Report) {
	if c.app == nil || c.app.Store == nil {
		return
	}
	if err := c.app.Store.SaveReport(ctx, r); err != nil {
		c.log.Warn("failed to save report %s: %v", r.ID, err)
	}
}

// writeBatch prints every report of a batch, then fails if any query failed.
func (c *cli) writeBatch(ctx context.Context, results []pipeline.BatchResult) error {
	var errs []error
	var docs []json.RawMessage
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Query.FaultID, res.Err))
			continue
		}
		c.save(ctx, res.Report)
		data, err := report.Report(*res.Report, c.output)
		if err != nil {
			return err
		}
		if c.output == report.JSON {
			docs = append(docs, json.RawMessage(data))
			continue
		}
		if _, err := fmt.Fprintf(c.out, "== %s ==\n%s\n", res.Query.FaultID, strings.TrimRight(string(data), "\n")); err != nil {
			return err
		}
	}
	if c.output == report.JSON {
		if docs == nil {
			docs = []json.RawMessage{}
		}
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return err
		}
		if err := c.write(append(data, '\n')); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
