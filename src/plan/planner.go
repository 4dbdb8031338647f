// Package plan decides, per artifact, whether filtering runs on the remote
// host or against a downloaded copy.
package plan

import (
	"context"

	"faultscope/src/contracts"
	"faultscope/src/logger"
	"faultscope/src/transport"
)

// DefaultSizeThreshold is the size above which artifacts are filtered remotely.
const DefaultSizeThreshold int64 = 64 << 20

// Options are the per-query inputs of Plan.
type Options struct {
	Predicate    contracts.ShellPredicate
	ContextLines int
	// Threshold overrides the planner threshold when positive.
	Threshold    int64
	ForceRefresh bool
}

// Planner produces QueryPlans.
type Planner struct {
	transport transport.Transport
	cache     *Cache
	threshold int64
	logger    logger.Logger
}

// New creates a Planner. A non-positive threshold selects DefaultSizeThreshold.
func New(t transport.Transport, cache *Cache, threshold int64, log logger.Logger) *Planner {
	if threshold <= 0 {
		threshold = DefaultSizeThreshold
	}
	return &Planner{transport: t, cache: cache, threshold: threshold, logger: log}
}

// Threshold returns the default size threshold.
func (p *Planner) Threshold() int64 {
	return p.threshold
}

// Cache returns the download cache.
func (p *Planner) Cache() *Cache {
	return p.cache
}

// Plan stats the artifact and picks the mode. Artifacts larger than the
// threshold, or whose size cannot be determined, are filtered remotely. Smaller
// ones are fetched through the cache.
func (p *Planner) Plan(ctx context.Context, artifact contracts.LogArtifact, opts Options) (contracts.QueryPlan, error) {
	threshold := p.threshold
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}

	qp := contracts.QueryPlan{
		Artifact:         artifact,
		Mode:             contracts.ModeRemote,
		KeywordPredicate: opts.Predicate,
		ContextLines:     opts.ContextLines,
	}

	if opts.ForceRefresh && p.cache != nil {
		if err := p.cache.Invalidate(artifact.Path); err != nil {
			return contracts.QueryPlan{}, err
		}
	}

	size, exists, err := p.transport.Stat(ctx, artifact.Path)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return contracts.QueryPlan{}, ctx.Err()
		}
		p.logger.Warn("size probe for %s failed, filtering remotely: %v", artifact.Path, err)
		return qp, nil
	case !exists:
		p.logger.Warn("size probe for %s found nothing, filtering remotely", artifact.Path)
		return qp, nil
	}
	qp.Artifact.SizeBytes = size

	if size > threshold || p.cache == nil {
		p.logger.Debug("%s is %d bytes (threshold %d), filtering remotely", artifact.Path, size, threshold)
		return qp, nil
	}

	local, hit, err := p.cache.Fetch(ctx, artifact.Path)
	if err != nil {
		return contracts.QueryPlan{}, err
	}
	p.logger.Debug("%s is %d bytes, scanning locally from %s (cached=%t)", artifact.Path, size, local, hit)
	qp.Mode = contracts.ModeLocal
	qp.LocalPath = local
	return qp, nil
}
