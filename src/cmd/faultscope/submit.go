package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"faultscope/src/agent"
	"faultscope/src/broker"
	"faultscope/src/contracts"
	"faultscope/src/report"
)

func (c *cli) submitCmd() *cobra.Command {
	var q queryFlags
	var faultID string
	var timeout time.Duration
	var detach bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send a query to running query agents and wait for the report",
		Long: `Publish a fault or statistics query to the faultscope.queries topic and
wait for a query-agent to publish the report. Requires broker.brokers.

Without --fault the query is a statistics query.

Example:
  faultscope submit --base /data/captures/run-42 --fault 0x0165
  faultscope submit --base /data/captures/run-42 --detach`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(c.cfg.Broker.Brokers) == 0 {
				return errors.New("submit needs broker.brokers (FAULTSCOPE_BROKER_BROKERS) to reach a query agent")
			}
			brk, err := broker.New(c.cfg.Broker.Brokers, c.log)
			if err != nil {
				return err
			}
			defer brk.Close()

			req := contracts.QueryRequest{
				Kind:         contracts.QueryStats,
				FaultID:      faultID,
				BasePath:     q.base,
				Keywords:     q.keywords,
				Logic:        q.logic,
				Fuzzy:        q.fuzzy,
				ForceRefresh: c.forceRefresh,
			}
			if faultID != "" {
				req.Kind = contracts.QueryFault
			}
			return c.submit(cmd.Context(), brk, req, timeout, detach)
		},
	}
	q.register(cmd, false)
	cmd.Flags().StringVar(&faultID, "fault", "", "fault identifier (omit for statistics)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the report")
	cmd.Flags().BoolVar(&detach, "detach", false, "print the request id and return without waiting")
	return cmd
}

func (c *cli) submit(ctx context.Context, brk broker.Broker, req contracts.QueryRequest, timeout time.Duration, detach bool) error {
	if detach {
		id, err := agent.Submit(ctx, brk, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.out, id)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before publishing so the response cannot be missed. A private
	// group sees every report rather than sharing partitions with other clients.
	reports, err := brk.Subscribe(ctx, contracts.TopicReports, "faultscope-cli-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to subscribe to reports: %w", err)
	}
	id, err := agent.Submit(ctx, brk, req)
	if err != nil {
		return err
	}
	c.log.Info("submitted request %s, waiting for report", id)

	resp, err := agent.Await(ctx, reports, id)
	if err != nil {
		return fmt.Errorf("no report for request %s: %w", id, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("query %s failed (%s): %s", id, resp.ErrorKind, resp.Error)
	}
	if resp.Report == nil {
		return fmt.Errorf("query %s returned no report", id)
	}
	data, err := report.Report(*resp.Report, c.output)
	if err != nil {
		return err
	}
	return c.write(data)
}
