// Package pipeline wires the query stages together: locate the artifact, plan
// the scan, stream it through the filter cascade and fold the matches into
// occurrence records.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/faultid"
	"faultscope/src/guide"
	"faultscope/src/keyword"
	"faultscope/src/locate"
	"faultscope/src/logger"
	"faultscope/src/metrics"
	"faultscope/src/occurrence"
	"faultscope/src/patterns"
	"faultscope/src/plan"
	"faultscope/src/scan"
	"faultscope/src/transport"
)

// DefaultWorkers bounds QueryMany when no limit is given.
const DefaultWorkers = 4

// Deps are the collaborators of an Engine.
type Deps struct {
	Transport transport.Transport
	Locator   *locate.Locator
	Planner   *plan.Planner
	Guide     *guide.Guide
	Budget    contracts.ScanBudget
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// Engine runs queries. It holds no per-query state, so one Engine serves
// concurrent queries; only the planner's cache is shared between them.
type Engine struct {
	transport transport.Transport
	locator   *locate.Locator
	planner   *plan.Planner
	guide     *guide.Guide
	budget    contracts.ScanBudget
	metrics   *metrics.Metrics
	logger    logger.Logger

	now   func() time.Time
	newID func() string
}

// New creates an Engine.
func New(d Deps) *Engine {
	log := d.Logger
	if log == nil {
		log = logger.NewSilentLogger()
	}
	g := d.Guide
	if g == nil {
		g = guide.Empty()
	}
	return &Engine{
		transport: d.Transport,
		locator:   d.Locator,
		planner:   d.Planner,
		guide:     g,
		budget:    d.Budget,
		metrics:   d.Metrics,
		logger:    log,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Options narrow a query and tune its execution.
type Options struct {
	Keywords []string
	Logic    keyword.Logic
	Fuzzy    bool

	ForceRefresh bool
	// Threshold overrides the planner's remote/local threshold when positive.
	Threshold int64
	// Budget overrides the engine budget when non-zero.
	Budget contracts.ScanBudget
}

// FaultQuery asks for the occurrences of one identifier.
type FaultQuery struct {
	BasePath string
	FaultID  string
	Options
}

// StatsQuery asks for the occurrences of every identifier.
type StatsQuery struct {
	BasePath string
	Options
}

// SearchQuery is a keyword search without strategy stages.
type SearchQuery struct {
	BasePath     string
	ContextLines int
	// MaxResults stops the scan after that many matches; zero means no limit.
	MaxResults int
	Options
}

// QueryFault reports the occurrences of q.FaultID. Any spelling of the
// identifier is accepted; records always use the canonical one.
func (e *Engine) QueryFault(ctx context.Context, q FaultQuery) (*contracts.Report, error) {
	id, err := faultid.Parse(q.FaultID)
	if err != nil {
		return nil, errkind.New(errkind.InvalidInput, "query", "", err).
			WithHint("fault identifiers are hexadecimal, e.g. 165, 0x165 or 0x0165")
	}
	idPred, err := keyword.Pattern(patterns.IdentifierERE(id), true)
	if err != nil {
		return nil, err
	}
	extra, err := buildKeywords(q.Options)
	if err != nil {
		return nil, err
	}

	r, err := e.run(ctx, "fault", q.BasePath, keyword.All(idPred, extra), q.Options)
	if err != nil {
		return nil, err
	}

	// The identifier pattern may over-match neighbouring keys; keep the
	// requested identifier only.
	want := id.String()
	var kept []contracts.OccurrenceRecord
	for _, rec := range r.Records {
		if rec.FaultID == want {
			kept = append(kept, rec)
		}
	}
	r.Records = kept
	r.FaultID = want
	return r, nil
}

// Stats reports every identifier found in the artifact.
func (e *Engine) Stats(ctx context.Context, q StatsQuery) (*contracts.Report, error) {
	extra, err := buildKeywords(q.Options)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, "stats", q.BasePath, extra, q.Options)
}

// Search returns matching lines with optional context.
func (e *Engine) Search(ctx context.Context, q SearchQuery) (*contracts.SearchResult, error) {
	if len(q.Keywords) == 0 {
		return nil, errkind.Newf(errkind.InvalidInput, "search", "", "at least one keyword is required")
	}
	if q.ContextLines < 0 || q.MaxResults < 0 {
		return nil, errkind.Newf(errkind.InvalidInput, "search", "", "context lines and max results must not be negative")
	}
	pred, err := buildKeywords(q.Options)
	if err != nil {
		return nil, err
	}

	start := e.now()
	log := e.logger.With("query", "search")

	artifact, qp, err := e.prepare(ctx, q.BasePath, pred, q.ContextLines, q.Options)
	if err != nil {
		e.metrics.ObserveQuery("search", "", err, "", time.Since(start))
		return nil, err
	}

	sc := scan.New(ctx, qp, e.scanOptions([]scan.Strategy{scan.Search}, q.Options, log))
	res := &contracts.SearchResult{
		ID:        e.newID(),
		BasePath:  q.BasePath,
		Artifact:  qp.Artifact,
		Mode:      qp.Mode,
		CreatedAt: e.now().UTC(),
	}
	limited := false
	for sc.Next() {
		res.Matches = append(res.Matches, sc.Line())
		if q.MaxResults > 0 && len(res.Matches) >= q.MaxResults {
			limited = true
			_ = sc.Close()
			break
		}
	}
	if err := sc.Err(); err != nil {
		e.metrics.ObserveQuery("search", qp.Mode, err, "", time.Since(start))
		return nil, err
	}
	res.FilterStatistics = sc.Stats()
	switch {
	case sc.Status().Partial():
		res.Degraded, res.Reason = true, sc.Reason()
	case limited:
		res.Degraded, res.Reason = true, fmt.Sprintf("result limit %d reached", q.MaxResults)
	}
	e.metrics.ObserveScan(res.FilterStatistics)
	e.metrics.ObserveQuery("search", qp.Mode, nil, res.Reason, time.Since(start))
	log.Info("search over %s: %d matches (%s)", artifact.Path, len(res.Matches), qp.Mode)
	return res, nil
}

// BatchResult is the outcome of one query of a batch.
type BatchResult struct {
	Query  FaultQuery
	Report *contracts.Report
	Err    error
}

// QueryMany runs independent fault queries on at most workers goroutines.
// A failing query does not stop the others. Results keep the input order.
func (e *Engine) QueryMany(ctx context.Context, queries []FaultQuery, workers int) []BatchResult {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	results := make([]BatchResult, len(queries))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			r, err := e.QueryFault(ctx, q)
			results[i] = BatchResult{Query: q, Report: r, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// InvalidateCache drops the cached copy of a remote artifact path.
func (e *Engine) InvalidateCache(remotePath string) error {
	if e.planner == nil || e.planner.Cache() == nil {
		return nil
	}
	return e.planner.Cache().Invalidate(remotePath)
}

// Locate exposes the locator for callers that only need the artifact.
func (e *Engine) Locate(ctx context.Context, basePath string) (contracts.LogArtifact, error) {
	return e.locator.Locate(ctx, basePath)
}

func (e *Engine) run(ctx context.Context, kind, basePath string, pred contracts.ShellPredicate, opts Options) (*contracts.Report, error) {
	start := e.now()
	log := e.logger.With("query", kind)

	artifact, qp, err := e.prepare(ctx, basePath, pred, 0, opts)
	if err != nil {
		e.metrics.ObserveQuery(kind, "", err, "", time.Since(start))
		return nil, err
	}

	sc := scan.New(ctx, qp, e.scanOptions(scan.FaultStrategies(), opts, log))
	tracker := occurrence.New()
	for sc.Next() {
		tracker.Consume(sc.Line())
	}
	if err := sc.Err(); err != nil {
		e.metrics.ObserveQuery(kind, qp.Mode, err, "", time.Since(start))
		return nil, err
	}

	r := &contracts.Report{
		ID:               e.newID(),
		BasePath:         basePath,
		Artifact:         qp.Artifact,
		Mode:             qp.Mode,
		Records:          tracker.Records(),
		FilterStatistics: sc.Stats(),
		CreatedAt:        e.now().UTC(),
	}
	if sc.Status().Partial() {
		r.Degraded = true
		r.Reason = sc.Reason()
	}
	for i := range r.Records {
		if hint, ok := e.guide.Lookup(r.Records[i].FaultID); ok {
			r.Records[i].Remediation = hint
		}
	}

	e.metrics.ObserveScan(r.FilterStatistics)
	e.metrics.ObserveQuery(kind, qp.Mode, nil, r.Reason, time.Since(start))
	log.Info("%s over %s: %d records, strategy %s, %s mode, %d/%d lines matched",
		kind, artifact.Path, len(r.Records), r.FilterStatistics.Strategy, qp.Mode,
		r.FilterStatistics.Matched, r.FilterStatistics.LinesRead)
	if r.Degraded {
		log.Warn("result is partial: %s", r.Reason)
	}
	return r, nil
}

// prepare runs the steps that fail fast: locate and plan.
func (e *Engine) prepare(ctx context.Context, basePath string, pred contracts.ShellPredicate, contextLines int, opts Options) (contracts.LogArtifact, contracts.QueryPlan, error) {
	artifact, err := e.locator.Locate(ctx, basePath)
	if err != nil {
		return contracts.LogArtifact{}, contracts.QueryPlan{}, err
	}
	qp, err := e.planner.Plan(ctx, artifact, plan.Options{
		Predicate:    pred,
		ContextLines: contextLines,
		Threshold:    opts.Threshold,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return contracts.LogArtifact{}, contracts.QueryPlan{}, err
	}
	return artifact, qp, nil
}

func (e *Engine) scanOptions(strategies []scan.Strategy, opts Options, log logger.Logger) scan.Options {
	budget := e.budget
	if opts.Budget.MaxBytes > 0 {
		budget.MaxBytes = opts.Budget.MaxBytes
	}
	if opts.Budget.MaxLinesPerFile > 0 {
		budget.MaxLinesPerFile = opts.Budget.MaxLinesPerFile
	}
	return scan.Options{
		Strategies: strategies,
		Budget:     budget,
		Transport:  e.transport,
		Logger:     log,
	}
}

// buildKeywords returns nil when no keywords were given.
func buildKeywords(opts Options) (contracts.ShellPredicate, error) {
	if len(opts.Keywords) == 0 {
		return nil, nil
	}
	logic := opts.Logic
	if logic == "" {
		logic = keyword.And
	}
	p, err := keyword.BuildPredicate(opts.Keywords, logic, opts.Fuzzy)
	if err != nil {
		return nil, err
	}
	return p, nil
}
