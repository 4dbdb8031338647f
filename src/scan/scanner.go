// Package scan streams a log artifact through a filter cascade and yields the
// surviving lines in file order.
//
// A Scanner tries its strategies in priority order. A later strategy runs only
// when every earlier one read the whole artifact without a single match. The
// byte and line budget is shared by all passes and enforced as a hard stop.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/logger"
	"faultscope/src/transport"
)

// Status tells why a scan stopped.
type Status int

const (
	Running Status = iota
	Complete
	BudgetExceeded
	Cancelled
	Corrupt
	Failed
	// Stopped means the caller closed the scanner before the end.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Complete:
		return "complete"
	case BudgetExceeded:
		return "budget_exceeded"
	case Cancelled:
		return "cancelled"
	case Corrupt:
		return "corrupt"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Partial reports whether results gathered under s are incomplete but usable.
func (s Status) Partial() bool {
	return s == BudgetExceeded || s == Cancelled || s == Corrupt
}

// Superset is implemented by predicates that can render a single ERE matching
// at least every line they accept. Search scans use it as the remote filter.
type Superset interface {
	Alternation() string
	Fuzzy() bool
}

// Options configure a Scanner.
type Options struct {
	// Strategies are tried in order. Empty means FaultStrategies().
	Strategies []Strategy
	Budget     contracts.ScanBudget
	// Transport is required for remote plans.
	Transport    transport.Transport
	MaxLineBytes int
	Logger       logger.Logger
}

// Scanner is a forward-only iterator over matched lines.
//
//	sc := scan.New(ctx, plan, opts)
//	for sc.Next() {
//		use(sc.Line())
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	ctx  context.Context
	plan contracts.QueryPlan
	opts Options

	strategyIdx int
	decompIdx   int
	src         source
	passLines   int64
	passMatches int64
	// passStart is the input accounted before the current pass opened.
	passStart contracts.FilterStatistics

	stats      contracts.FilterStatistics
	stageOrder []string
	stageCount map[string]int64

	window *contextWindow
	ready  []contracts.MatchedLine
	cur    contracts.MatchedLine

	status Status
	reason string
	err    error
	done   bool
}

// New prepares a scan. Nothing is opened until the first call to Next.
func New(ctx context.Context, plan contracts.QueryPlan, opts Options) *Scanner {
	if len(opts.Strategies) == 0 {
		opts.Strategies = FaultStrategies()
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewSilentLogger()
	}
	s := &Scanner{
		ctx:        ctx,
		plan:       plan,
		opts:       opts,
		stageCount: make(map[string]int64),
	}
	s.stats.RemoteFiltered = plan.Mode == contracts.ModeRemote
	if plan.ContextLines > 0 {
		s.window = &contextWindow{n: plan.ContextLines}
	}
	return s
}

// Next advances to the next matched line.
func (s *Scanner) Next() bool {
	for {
		if len(s.ready) > 0 {
			s.cur = s.ready[0]
			s.ready = s.ready[1:]
			s.stats.Matched++
			return true
		}
		if s.done {
			return false
		}
		if s.src == nil {
			s.openPass()
			continue
		}
		s.step()
	}
}

// Line returns the current matched line.
func (s *Scanner) Line() contracts.MatchedLine {
	return s.cur
}

// Err returns the fatal error that ended the scan, if any. Soft stops are
// reported through Status, never here.
func (s *Scanner) Err() error {
	return s.err
}

// Status returns why the scan stopped, or Running.
func (s *Scanner) Status() Status {
	return s.status
}

// Reason describes a non-complete status.
func (s *Scanner) Reason() string {
	return s.reason
}

// Strategy returns the strategy of the current (or last) pass.
func (s *Scanner) Strategy() Strategy {
	return s.opts.Strategies[s.strategyIdx]
}

// Stats returns the filter statistics so far.
func (s *Scanner) Stats() contracts.FilterStatistics {
	st := s.stats
	st.Stages = make([]contracts.StageCount, len(s.stageOrder))
	for i, name := range s.stageOrder {
		st.Stages[i] = contracts.StageCount{Stage: name, Passed: s.stageCount[name]}
	}
	return st
}

// Close stops the scan early and releases the source.
func (s *Scanner) Close() error {
	if s.done {
		return nil
	}
	var err error
	if s.src != nil {
		err = s.src.close()
		s.src = nil
	}
	s.done = true
	s.status = Stopped
	s.ready = nil
	return err
}

func (s *Scanner) openPass() {
	strategy := s.Strategy()
	s.stats.Strategy = strategy.Name
	s.passLines, s.passMatches = 0, 0
	s.passStart = s.stats
	for _, st := range strategy.Stages {
		s.addStage(strategy.Name + "/" + st.Name)
	}
	if s.plan.KeywordPredicate != nil {
		s.addStage(strategy.Name + "/keyword")
	}

	var (
		src source
		err error
	)
	if s.plan.Mode == contracts.ModeLocal {
		src, err = openLocal(s.plan, s.opts.MaxLineBytes)
	} else {
		src, err = s.openRemote(strategy)
	}
	if err != nil {
		if errors.Is(err, errCorrupt) {
			s.finish(Corrupt, "artifact corrupt: "+err.Error(), nil)
			return
		}
		s.finish(Failed, "", err)
		return
	}
	s.src = src
	s.opts.Logger.Debug("scan pass %q over %s (%s)", strategy.Name, s.plan.Artifact.Path, s.plan.Mode)
}

func (s *Scanner) openRemote(strategy Strategy) (source, error) {
	if s.opts.Transport == nil {
		return nil, errkind.Newf(errkind.InvalidInput, "scan", s.plan.Artifact.Path, "remote plan without transport")
	}
	decomp := decompressors(s.plan.Artifact.Kind)
	cmd, err := RemoteCommand(s.plan, strategy, decomp[s.decompIdx])
	if err != nil {
		return nil, err
	}
	return openRemote(s.ctx, s.opts.Transport, cmd, s.plan.Artifact.Path,
		s.plan.Artifact.Kind == contracts.ArtifactGzip, s.opts.MaxLineBytes)
}

func (s *Scanner) step() {
	if err := s.ctx.Err(); err != nil {
		s.endPass(Cancelled, fmt.Sprintf("cancelled after %d lines", s.stats.LinesRead), nil)
		return
	}

	rec, err := s.src.next()
	if err != nil {
		switch {
		// A killed remote command looks like a clean EOF.
		case s.ctx.Err() != nil:
			s.endPass(Cancelled, fmt.Sprintf("cancelled after %d lines", s.stats.LinesRead), nil)
		case err == io.EOF:
			s.endPass(Complete, "", nil)
		case errors.Is(err, errCorrupt):
			s.endPass(Corrupt, "artifact corrupt: "+err.Error(), nil)
		default:
			s.endPass(Failed, "", err)
		}
		return
	}

	budget := s.opts.Budget
	if budget.MaxBytes > 0 && s.stats.BytesRead+rec.bytes > budget.MaxBytes {
		s.endPass(BudgetExceeded, fmt.Sprintf("budget exceeded: byte limit %d reached", budget.MaxBytes), nil)
		return
	}
	if budget.MaxLinesPerFile > 0 && rec.lineNumber > budget.MaxLinesPerFile {
		s.endPass(BudgetExceeded, fmt.Sprintf("budget exceeded: line limit %d reached", budget.MaxLinesPerFile), nil)
		return
	}
	s.stats.BytesRead += rec.bytes
	if rec.lineNumber < 0 {
		return
	}
	s.stats.LinesRead++
	s.passLines++
	s.process(rec)
}

func (s *Scanner) process(rec record) {
	if s.window != nil {
		s.ready = append(s.ready, s.window.feed(rec)...)
	}

	if !rec.context && s.accept(rec.text) {
		m := s.decode(rec)
		s.passMatches++
		if s.window != nil {
			m.Before = s.window.before(rec.lineNumber)
			s.window.pending = append(s.window.pending, m)
		} else {
			s.ready = append(s.ready, m)
		}
	}

	if s.window != nil {
		s.window.remember(rec)
	}
}

// accept runs the cascade: strategy stages first, the caller's predicate last.
func (s *Scanner) accept(text string) bool {
	strategy := s.Strategy()
	for _, st := range strategy.Stages {
		if !st.Match(text) {
			return false
		}
		s.stageCount[strategy.Name+"/"+st.Name]++
	}
	if s.plan.KeywordPredicate != nil {
		if !s.plan.KeywordPredicate.Match(text) {
			return false
		}
		s.stageCount[strategy.Name+"/keyword"]++
	}
	return true
}

func (s *Scanner) decode(rec record) contracts.MatchedLine {
	strategy := s.Strategy()
	f := strategy.Decode(rec.text)
	return contracts.MatchedLine{
		LineNumber:      rec.lineNumber,
		RawText:         rec.text,
		Timestamp:       f.Timestamp,
		FaultID:         f.FaultID,
		ReportState:     f.ReportState,
		LevelState:      f.LevelState,
		LevelClearState: f.LevelClearState,
		Countable:       strategy.Countable,
	}
}

// endPass closes the current source and decides between retrying with another
// decompressor, moving to the next strategy and finishing.
func (s *Scanner) endPass(status Status, reason string, err error) {
	var closeErr error
	if s.src != nil {
		closeErr = s.src.close()
		s.src = nil
	}
	if s.window != nil {
		s.ready = append(s.ready, s.window.drain()...)
	}

	if status == Complete && closeErr != nil && s.ctx.Err() != nil {
		status, reason = Cancelled, fmt.Sprintf("cancelled after %d lines", s.stats.LinesRead)
	}
	if status == Complete && closeErr != nil {
		var de *decompressError
		if errors.As(closeErr, &de) {
			if s.passLines == 0 && s.decompIdx+1 < len(decompressors(s.plan.Artifact.Kind)) {
				s.decompIdx++
				s.stats.BytesRead = s.passStart.BytesRead
				s.stats.LinesRead = s.passStart.LinesRead
				s.opts.Logger.Warn("remote decompression failed (%s), retrying with %s",
					truncate(de.stderr, 120), decompressors(s.plan.Artifact.Kind)[s.decompIdx])
				return
			}
			status, reason = Corrupt, "artifact corrupt: "+truncate(de.stderr, 200)
		} else {
			status, err = Failed, closeErr
		}
	}

	if status == Complete && s.passMatches == 0 && s.strategyIdx+1 < len(s.opts.Strategies) {
		s.strategyIdx++
		s.stats.FallbackUsed = true
		s.opts.Logger.Info("strategy %q matched nothing, falling back to %q",
			s.opts.Strategies[s.strategyIdx-1].Name, s.Strategy().Name)
		return
	}
	s.finish(status, reason, err)
}

func (s *Scanner) finish(status Status, reason string, err error) {
	s.status = status
	s.reason = reason
	s.err = err
	s.done = true
}

func (s *Scanner) addStage(name string) {
	if _, ok := s.stageCount[name]; ok {
		return
	}
	s.stageCount[name] = 0
	s.stageOrder = append(s.stageOrder, name)
}

func decompressors(kind contracts.ArtifactKind) []string {
	if kind == contracts.ArtifactGzip {
		return []string{"zcat", "gzip -dc"}
	}
	return []string{"cat"}
}

// RemoteCommand renders the remote pipeline for one strategy pass:
//
//	zcat 'path' | LC_ALL=C grep -n -F -e 'SetFunc' | LC_ALL=C grep -E -e '<level>' | <predicate>
//
// Strategies without stages (search) use the predicate's alternation as the
// single numbered grep so that -C context can be requested.
func RemoteCommand(plan contracts.QueryPlan, strategy Strategy, decompressor string) (string, error) {
	parts := []string{decompressor + " " + transport.Quote(plan.Artifact.Path)}

	if len(strategy.Stages) == 0 {
		sup, ok := plan.KeywordPredicate.(Superset)
		if !ok {
			return "", errkind.Newf(errkind.PredicateRenderError, "scan", plan.Artifact.Path,
				"search requires a keyword predicate")
		}
		g := transport.Grep + " -n"
		if sup.Fuzzy() {
			g += " -i"
		}
		if plan.ContextLines > 0 {
			g += " -C " + strconv.Itoa(plan.ContextLines)
		}
		parts = append(parts, g+" -E -e "+transport.Quote(sup.Alternation()))
		return strings.Join(parts, " | "), nil
	}

	for i, st := range strategy.Stages {
		parts = append(parts, st.Shell(i == 0))
	}
	if plan.KeywordPredicate != nil {
		sh, err := plan.KeywordPredicate.Shell()
		if err != nil {
			return "", err
		}
		if sh != "" {
			parts = append(parts, sh)
		}
	}
	return strings.Join(parts, " | "), nil
}

// contextWindow attaches up to n neighbouring lines on each side of a match.
// Matches wait in pending until n later lines have been seen.
type contextWindow struct {
	n       int
	ring    []contracts.ContextLine
	pending []contracts.MatchedLine
}

// feed adds rec as after-context and returns the matches whose window closed.
func (w *contextWindow) feed(rec record) []contracts.MatchedLine {
	var done []contracts.MatchedLine
	for len(w.pending) > 0 && rec.lineNumber > w.pending[0].LineNumber+int64(w.n) {
		done = append(done, w.pending[0])
		w.pending = w.pending[1:]
	}
	for i := range w.pending {
		w.pending[i].After = append(w.pending[i].After, contracts.ContextLine{LineNumber: rec.lineNumber, Text: rec.text})
	}
	return done
}

func (w *contextWindow) before(lineNumber int64) []contracts.ContextLine {
	var out []contracts.ContextLine
	for _, c := range w.ring {
		if c.LineNumber >= lineNumber-int64(w.n) {
			out = append(out, c)
		}
	}
	return out
}

func (w *contextWindow) remember(rec record) {
	c := contracts.ContextLine{LineNumber: rec.lineNumber, Text: rec.text}
	if len(w.ring) < w.n {
		w.ring = append(w.ring, c)
		return
	}
	copy(w.ring, w.ring[1:])
	w.ring[len(w.ring)-1] = c
}

func (w *contextWindow) drain() []contracts.MatchedLine {
	out := w.pending
	w.pending = nil
	w.ring = nil
	return out
}
