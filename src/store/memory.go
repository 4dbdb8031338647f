package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"faultscope/src/contracts"
)

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and for one-shot CLI runs.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]contracts.Report
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]contracts.Report)}
}

// SaveReport stores a copy of r.
func (s *MemoryStore) SaveReport(ctx context.Context, r *contracts.Report) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("report without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.Records = append([]contracts.OccurrenceRecord(nil), r.Records...)
	s.reports[r.ID] = cp
	return nil
}

// GetReport returns a copy of the stored report.
func (s *MemoryStore) GetReport(ctx context.Context, id string) (*contracts.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	r.Records = append([]contracts.OccurrenceRecord(nil), r.Records...)
	return &r, nil
}

// ListReports returns summaries, newest first.
func (s *MemoryStore) ListReports(ctx context.Context, faultID string, limit int) ([]contracts.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.ReportSummary, 0, len(s.reports))
	for _, r := range s.reports {
		if faultID != "" && r.FaultID != faultID {
			continue
		}
		out = append(out, summarize(&r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}
