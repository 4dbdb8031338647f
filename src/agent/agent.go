// Package agent provides the query agent for agent mode.
// The agent consumes query requests from the broker, runs them through the
// engine and publishes the finished reports.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"faultscope/src/broker"
	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/keyword"
	"faultscope/src/logger"
	"faultscope/src/pipeline"
	"faultscope/src/store"
)

// DefaultGroup is the consumer group shared by every query agent.
const DefaultGroup = "faultscope-query"

// Engine is the part of pipeline.Engine the agent needs.
type Engine interface {
	QueryFault(ctx context.Context, q pipeline.FaultQuery) (*contracts.Report, error)
	Stats(ctx context.Context, q pipeline.StatsQuery) (*contracts.Report, error)
}

// Agent consumes query requests and publishes reports.
type Agent struct {
	broker  broker.Broker
	engine  Engine
	store   store.Store
	logger  logger.Logger
	group   string
	workers int
}

// NewAgent creates a new query agent. st may be nil when no history is kept.
func NewAgent(brk broker.Broker, engine Engine, st store.Store, workers int, log logger.Logger) *Agent {
	if workers <= 0 {
		workers = pipeline.DefaultWorkers
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Agent{
		broker:  brk,
		engine:  engine,
		store:   st,
		logger:  log.With("agent", "query"),
		group:   DefaultGroup,
		workers: workers,
	}
}

// Run subscribes to the queries topic and serves requests until ctx ends or
// the subscription closes. Up to workers requests run at once.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting")

	msgChan, err := a.broker.Subscribe(ctx, contracts.TopicQueries, a.group)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicQueries, err)
	}

	a.logger.Info("listening for queries on '%s' topic", contracts.TopicQueries)

	var g errgroup.Group
	g.SetLimit(a.workers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("message channel closed, shutting down")
				return nil
			}
			g.Go(func() error {
				if err := a.processRequest(ctx, msg); err != nil {
					a.logger.Error("error processing request: %v", err)
				}
				return nil
			})

		case <-ctx.Done():
			a.logger.Info("context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// processRequest runs one request and publishes its response. Query failures
// are reported to the requester; only broker failures are returned.
func (a *Agent) processRequest(ctx context.Context, msg broker.Message) error {
	var req contracts.QueryRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = msg.Key
	}

	log := a.logger.With("request_id", req.RequestID)
	log.Info("processing %s query on %s", req.Kind, req.BasePath)

	resp := contracts.QueryResponse{RequestID: req.RequestID}
	report, err := a.run(ctx, req)
	if err != nil {
		log.Warn("query failed: %v", err)
		resp.Error = err.Error()
		resp.ErrorKind = string(errkind.KindOf(err))
	} else {
		resp.Report = report
		if a.store != nil {
			if err := a.store.SaveReport(ctx, report); err != nil {
				log.Error("failed to save report %s: %v", report.ID, err)
			}
		}
		log.Info("report %s: %d records (degraded=%v)", report.ID, len(report.Records), report.Degraded)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := a.broker.Publish(ctx, contracts.TopicReports, req.RequestID, data); err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}
	return nil
}

func (a *Agent) run(ctx context.Context, req contracts.QueryRequest) (*contracts.Report, error) {
	logic, err := keyword.ParseLogic(req.Logic)
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		Keywords:     req.Keywords,
		Logic:        logic,
		Fuzzy:        req.Fuzzy,
		ForceRefresh: req.ForceRefresh,
	}

	switch req.Kind {
	case contracts.QueryFault, "":
		return a.engine.QueryFault(ctx, pipeline.FaultQuery{BasePath: req.BasePath, FaultID: req.FaultID, Options: opts})
	case contracts.QueryStats:
		return a.engine.Stats(ctx, pipeline.StatsQuery{BasePath: req.BasePath, Options: opts})
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "agent", "", "unknown query kind %q", req.Kind)
	}
}

// Submit publishes req to the queries topic, filling in the request ID and
// timestamp when missing. It returns the request ID.
func Submit(ctx context.Context, brk broker.Broker, req contracts.QueryRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := brk.Publish(ctx, contracts.TopicQueries, req.RequestID, data); err != nil {
		return "", fmt.Errorf("failed to publish request: %w", err)
	}
	return req.RequestID, nil
}

// Await waits on reports for the response to requestID. The channel must be
// subscribed before the request is submitted.
func Await(ctx context.Context, reports <-chan broker.Message, requestID string) (*contracts.QueryResponse, error) {
	for {
		select {
		case msg, ok := <-reports:
			if !ok {
				return nil, errors.New("report subscription closed")
			}
			if msg.Key != requestID {
				continue
			}
			var resp contracts.QueryResponse
			if err := json.Unmarshal(msg.Value, &resp); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response: %w", err)
			}
			return &resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
